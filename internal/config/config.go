// Package config loads gateway settings from a file, the environment and
// command line flags.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FEDGATE_SERVER_ADDR.
const EnvPrefix = "FEDGATE"

type Config struct {
	Schema    SchemaConfig             `mapstructure:"schema"`
	Server    ServerConfig             `mapstructure:"server"`
	Engine    EngineConfig             `mapstructure:"engine"`
	Transport TransportConfig          `mapstructure:"transport"`
	Services  map[string]ServiceConfig `mapstructure:"services"`
	OTel      OTelConfig               `mapstructure:"otel"`
	Log       LogConfig                `mapstructure:"log"`
}

type SchemaConfig struct {
	// Root holds one directory per service with overall.graphql and an
	// optional underlying.graphql.
	Root string `mapstructure:"root"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Pretty          bool          `mapstructure:"pretty"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxBodyBytes    int64         `mapstructure:"maxBodyBytes"`
	MetadataHeaders []string      `mapstructure:"metadataHeaders"`
	CORSOrigins     []string      `mapstructure:"corsOrigins"`
	GraphiQL        bool          `mapstructure:"graphiql"`
}

type EngineConfig struct {
	MaxConcurrency   int           `mapstructure:"maxConcurrency"`
	CloseGracePeriod time.Duration `mapstructure:"closeGracePeriod"`
	AllVariables     bool          `mapstructure:"allVariables"`
	Introspection    bool          `mapstructure:"introspection"`
}

type TransportConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retryCount"`
}

type ServiceConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
}

type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so that environment variables can
// override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("schema.root", ".")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.pretty", false)
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("server.maxBodyBytes", 0)
	v.SetDefault("server.metadataHeaders", []string{})
	v.SetDefault("server.corsOrigins", []string{})
	v.SetDefault("server.graphiql", true)
	v.SetDefault("engine.maxConcurrency", 0)
	v.SetDefault("engine.closeGracePeriod", 60*time.Second)
	v.SetDefault("engine.allVariables", false)
	v.SetDefault("engine.introspection", true)
	v.SetDefault("transport.timeout", 10*time.Second)
	v.SetDefault("transport.retryCount", 0)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service", "fedgate")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads file when it is not empty, applies the environment and decodes
// the result. Flags must be bound to v before calling Load.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("engine.maxConcurrency must not be negative")
	}
	return nil
}

// Endpoints maps every configured service to its URLs.
func (c *Config) Endpoints() map[string][]string {
	out := make(map[string][]string, len(c.Services))
	for name, svc := range c.Services {
		out[name] = svc.Endpoints
	}
	return out
}

// NewLogger builds the logger described by c, writing to out.
func NewLogger(c LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
