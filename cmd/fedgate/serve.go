package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/config"
	"github.com/hanpama/fedgate/internal/engine"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/otel"
	"github.com/hanpama/fedgate/internal/server"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/hanpama/fedgate/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP GraphQL gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", ":8080", "HTTP listen address")
	flags.Bool("pretty", false, "pretty-print JSON responses")
	flags.StringSlice("metadata-header", nil, "HTTP header forwarded to the services, repeatable")
	flags.StringSlice("cors-origin", nil, "allowed CORS origin, repeatable")
	flags.Int("max-concurrency", 0, "concurrent service calls per execution, 0 for unlimited")
	flags.Bool("introspection", true, "answer __schema and __type")
	flags.String("otel-endpoint", "", "OTLP collector endpoint")
	for key, name := range map[string]string{
		"server.addr":            "addr",
		"server.pretty":          "pretty",
		"server.metadataHeaders": "metadata-header",
		"server.corsOrigins":     "cors-origin",
		"engine.maxConcurrency":  "max-concurrency",
		"engine.introspection":   "introspection",
		"otel.endpoint":          "otel-endpoint",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	log, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	bp, err := a.blueprint(ctx)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	eventbus.Use(bus)
	shutdown, err := otel.Setup(ctx, bus, cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	tp := transport.New(
		transport.WithProvider(transport.NewStaticEndpoints(cfg.Endpoints())),
		transport.WithTimeout(cfg.Transport.Timeout),
		transport.WithRetryCount(cfg.Transport.RetryCount),
		transport.WithLogger(log),
	)
	defer tp.Close()

	services, err := executions(bp, cfg, tp)
	if err != nil {
		return err
	}
	eng, err := engine.New(bp, services,
		engine.WithLogger(log),
		engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		engine.WithCloseGracePeriod(cfg.Engine.CloseGracePeriod),
		engine.WithAllVariables(cfg.Engine.AllVariables),
		engine.WithIntrospection(cfg.Engine.Introspection),
	)
	if err != nil {
		return err
	}

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithGraphiQL(cfg.Server.GraphiQL),
		server.WithLogger(log),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.MetadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.Server.MetadataHeaders...))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(eng, sopts...))
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.WithFields(logrus.Fields{"addr": cfg.Server.Addr, "services": bp.ServiceNames()}).Info("GraphQL server listening")

	select {
	case err := <-errc:
		_ = eng.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.CloseGracePeriod)
	defer cancel()
	if err := eng.Close(graceCtx); err != nil {
		log.WithError(err).Warn("executions aborted")
	}
	if err := srv.Shutdown(graceCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// executions routes every service of the blueprint through the transport.
func executions(bp *blueprint.Blueprint, cfg *config.Config, tp service.Execution) (map[string]service.Execution, error) {
	out := make(map[string]service.Execution)
	for _, name := range bp.ServiceNames() {
		if len(cfg.Services[name].Endpoints) == 0 {
			return nil, fmt.Errorf("no endpoints configured for service %s", name)
		}
		out[name] = tp
	}
	return out, nil
}
