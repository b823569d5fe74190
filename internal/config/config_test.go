package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	want := &Config{
		Schema:    SchemaConfig{Root: "."},
		Server:    ServerConfig{Addr: ":8080", Timeout: 10 * time.Second, GraphiQL: true},
		Engine:    EngineConfig{CloseGracePeriod: time.Minute, Introspection: true},
		Transport: TransportConfig{Timeout: 10 * time.Second},
		OTel:      OTelConfig{Service: "fedgate"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fedgate.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
schema:
  root: ./schemas
server:
  addr: ":9000"
  metadataHeaders: [authorization]
engine:
  closeGracePeriod: 5s
services:
  pets:
    endpoints: ["http://pets:8080/graphql"]
  users:
    endpoints: ["http://users-a/graphql", "http://users-b/graphql"]
log:
  format: json
`), 0o644))
	t.Setenv("FEDGATE_ENGINE_MAXCONCURRENCY", "4")
	t.Setenv("FEDGATE_SERVER_ADDR", ":9100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("log.level", flags.Lookup("log-level")))
	cfg, err := Load(v, file)
	require.NoError(t, err)

	require.Equal(t, "./schemas", cfg.Schema.Root)
	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, []string{"authorization"}, cfg.Server.MetadataHeaders)
	require.Equal(t, 5*time.Second, cfg.Engine.CloseGracePeriod)
	require.Equal(t, 4, cfg.Engine.MaxConcurrency)
	require.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	require.Equal(t, map[string][]string{
		"pets":  {"http://pets:8080/graphql"},
		"users": {"http://users-a/graphql", "http://users-b/graphql"},
	}, cfg.Endpoints())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FEDGATE_LOG_FORMAT", "xml")
	_, err := Load(viper.New(), "")
	require.ErrorContains(t, err, "log.format")

	t.Setenv("FEDGATE_LOG_FORMAT", "text")
	t.Setenv("FEDGATE_LOG_LEVEL", "loud")
	_, err = Load(viper.New(), "")
	require.ErrorContains(t, err, "log.level")

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	require.Equal(t, logrus.WarnLevel, l.GetLevel())

	l.Info("hidden")
	l.WithField("service", "pets").Warn("slow")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"service":"pets"`)
	require.Contains(t, buf.String(), `"msg":"slow"`)

	_, err = NewLogger(LogConfig{Level: "nope"}, &buf)
	require.Error(t, err)
}
