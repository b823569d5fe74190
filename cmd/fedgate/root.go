package main

import (
	"context"
	"fmt"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/config"
	"github.com/hanpama/fedgate/internal/discovery"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the configuration shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "fedgate",
		Short:         "GraphQL federation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("schema-root", ".", "directory holding one schema directory per service")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format: text or json")
	_ = a.v.BindPFlag("schema.root", flags.Lookup("schema-root"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newServeCommand(a), newCheckCommand(a), newPrintSchemaCommand(a))
	return root
}

func (a *app) blueprint(ctx context.Context) (*blueprint.Blueprint, error) {
	disc, err := discovery.NewFileSystemDiscovery(ctx, a.cfg.Schema.Root)
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	return blueprint.Build(ctx, disc)
}
