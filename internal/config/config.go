// Package config loads the gqlhttp configuration from flags, environment
// variables and an optional config file.
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	encoder "github.com/hanpama/gqlhttp/internal/encoder"
	engine "github.com/hanpama/gqlhttp/internal/engine"
	introspection "github.com/hanpama/gqlhttp/internal/introspection"
	server "github.com/hanpama/gqlhttp/internal/server"
)

// EnvPrefix prefixes every environment variable, e.g. GQLHTTP_UPSTREAM.
const EnvPrefix = "GQLHTTP"

// FileFlag names the flag pointing at a config file.
const FileFlag = "config"

type Config struct {
	Listen   string   `mapstructure:"listen" validate:"required"`
	Path     string   `mapstructure:"path" validate:"required,startswith=/"`
	Schema   []string `mapstructure:"schema" validate:"required,min=1,dive,required"`
	Upstream string   `mapstructure:"upstream" validate:"required,url"`

	MetricsListen string `mapstructure:"metrics-listen"`
	OTLPEndpoint  string `mapstructure:"otlp-endpoint"`
	ServiceName   string `mapstructure:"service-name" validate:"required"`

	LogLevel       string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	LogDevelopment bool   `mapstructure:"log-development"`

	Pretty          bool          `mapstructure:"pretty"`
	Gzip            bool          `mapstructure:"gzip"`
	MaxBodyBytes    int64         `mapstructure:"max-body-bytes" validate:"gte=0"`
	MaxUploadMemory int64         `mapstructure:"max-upload-memory" validate:"gte=0"`
	MaxBatchSize    int           `mapstructure:"max-batch-size" validate:"gte=0"`
	CORSOrigins     []string      `mapstructure:"cors-origins" validate:"dive,required"`
	CSRFDisabled    bool          `mapstructure:"csrf-disabled"`
	CSRFHeaders     []string      `mapstructure:"csrf-headers" validate:"dive,required"`
	ForwardHeaders  []string      `mapstructure:"forward-headers" validate:"dive,required"`
	GraphiQL        bool          `mapstructure:"graphiql"`
	Introspection   bool          `mapstructure:"introspection"`
	Heartbeat       time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
	DocumentCache   int           `mapstructure:"document-cache" validate:"gte=1"`
	AcceptCache     int           `mapstructure:"accept-cache" validate:"gte=1"`
}

// RegisterFlags defines one flag per configuration key on fs. Flag defaults
// are the configuration defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FileFlag, "", "Configuration file. Environment variables and flags override its values.")
	fs.String("listen", ":8080", "Address the GraphQL endpoint listens on.")
	fs.String("path", "/graphql", "URL path of the GraphQL endpoint.")
	fs.StringSlice("schema", nil, "SDL files describing the upstream schema.")
	fs.String("upstream", "", "URL of the upstream GraphQL server.")
	fs.String("metrics-listen", "", "Address serving Prometheus metrics. Empty disables it.")
	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint receiving traces. Empty disables tracing.")
	fs.String("service-name", "gqlhttp", "Service name reported in traces.")
	fs.String("log-level", "info", "One of debug, info, warn, error.")
	fs.Bool("log-development", false, "Human readable logs.")
	fs.Bool("pretty", false, "Indent JSON responses.")
	fs.Bool("gzip", false, "Compress JSON responses for clients that accept gzip.")
	fs.Int64("max-body-bytes", 1<<20, "Largest accepted request body. 0 means unlimited.")
	fs.Int64("max-upload-memory", 32<<20, "Part of a multipart upload kept in memory.")
	fs.Int("max-batch-size", 0, "Largest accepted batch. 0 disables batching.")
	fs.StringSlice("cors-origins", nil, "Allowed CORS origins. Empty disables CORS.")
	fs.Bool("csrf-disabled", false, "Disable the CSRF guard.")
	fs.StringSlice("csrf-headers", nil, "Headers accepted by the CSRF guard.")
	fs.StringSlice("forward-headers", nil, "Request headers forwarded to the upstream.")
	fs.Bool("graphiql", true, "Serve GraphiQL to browsers.")
	fs.Bool("introspection", false, "Allow introspection queries.")
	fs.Duration("heartbeat", encoder.DefaultHeartbeat, "SSE keep-alive interval. 0 disables it.")
	fs.Int("document-cache", engine.DefaultDocumentCacheSize, "Parsed documents kept in memory.")
	fs.Int("accept-cache", encoder.DefaultAcceptCacheSize, "Parsed Accept headers kept in memory.")
}

// Load reads the configuration for the flags registered by RegisterFlags.
// Precedence, highest first: changed flags, environment, config file, flag
// defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(FileFlag); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", file)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

// Validate reports every invalid key by its configuration name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validation failed")
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fe.Field() + ": failed " + fe.Tag()
		if fe.Param() != "" {
			msgs[i] += "=" + fe.Param()
		}
	}
	return errors.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ServerOptions maps the configuration onto server options.
func (c *Config) ServerOptions() []server.Option {
	opts := []server.Option{
		server.WithMaxBodyBytes(c.MaxBodyBytes),
		server.WithMaxUploadMemory(c.MaxUploadMemory),
		server.WithMaxBatchSize(c.MaxBatchSize),
		server.WithGraphiQL(c.GraphiQL),
		server.WithHeartbeat(c.Heartbeat),
		server.WithCacheSizes(c.DocumentCache, c.AcceptCache),
	}
	if c.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if c.Gzip {
		opts = append(opts, server.WithGzip())
	}
	if len(c.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(c.CORSOrigins...))
	}
	if c.CSRFDisabled {
		opts = append(opts, server.WithoutCSRFPrevention())
	} else if len(c.CSRFHeaders) > 0 {
		opts = append(opts, server.WithCSRFHeaders(c.CSRFHeaders...))
	}
	if len(c.ForwardHeaders) > 0 {
		opts = append(opts, server.WithMetadataHeaders(c.ForwardHeaders...))
	}
	if c.Introspection {
		opts = append(opts, server.WithIntrospection(introspection.Enabled))
	}
	return opts
}
