package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"threatmap/internal/threat"
)

// EnvPrefix prefixes every environment override, e.g. THREATMAP_HTTP_ADDR.
const EnvPrefix = "THREATMAP"

// Config holds server configuration
type Config struct {
	HTTPAddr     string          `mapstructure:"http_addr"`
	MetricsAddr  string          `mapstructure:"metrics_addr"`
	GRPCAddr     string          `mapstructure:"grpc_addr"`
	Primary      PrimaryConfig   `mapstructure:"primary"`
	Secondary    SecondaryConfig `mapstructure:"secondary"`
	Synthetic    SyntheticConfig `mapstructure:"synthetic"`
	FetchTimeout time.Duration   `mapstructure:"fetch_timeout"`
	CORS         CORSConfig      `mapstructure:"cors"`
	Log          LogConfig       `mapstructure:"log"`
	OTel         OTelConfig      `mapstructure:"otel"`
}

type PrimaryConfig struct {
	URL string `mapstructure:"url"`
}

type SecondaryConfig struct {
	URL     string                 `mapstructure:"url"`
	Weights threat.SeverityWeights `mapstructure:"weights"`
}

type SyntheticConfig struct {
	Count int `mapstructure:"count"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	w := threat.DefaultSeverityWeights()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("grpc_addr", ":9091")
	v.SetDefault("primary.url", threat.DefaultPrimaryURL)
	v.SetDefault("secondary.url", threat.DefaultSecondaryURL)
	v.SetDefault("secondary.weights.high", w.High)
	v.SetDefault("secondary.weights.medium", w.Medium)
	v.SetDefault("secondary.weights.low", w.Low)
	v.SetDefault("synthetic.count", threat.DefaultSyntheticCount)
	v.SetDefault("fetch_timeout", 15*time.Second)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("otel.endpoint", "")
}

// LoadConfig reads defaults, the optional YAML file at path and THREATMAP_*
// environment overrides, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the binaries cannot run with. Invalid severity
// weights are not an error; the secondary feed falls back to the defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Synthetic.Count <= 0 {
		errs = append(errs, fmt.Errorf("synthetic.count must be positive, got %d", c.Synthetic.Count))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch_timeout must be positive, got %s", c.FetchTimeout))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// NewLogger builds the slog logger described by the log settings.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
