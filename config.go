package apmz

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of every environment override, e.g. APMZ_HOST.
const EnvPrefix = "apmz"

// Config holds agent configuration.
type Config struct {
	AuthenticationToken string    `yaml:"authentication" split_words:"true"`
	Host                string    `yaml:"host" split_words:"true"`
	Log                 LogConfig `yaml:"log" split_words:"true"`
	GC                  GCConfig  `yaml:"gc" split_words:"true"`
	Port                int       `yaml:"port" split_words:"true"`
	SamplesPerInterval  int       `yaml:"samples_per_interval" split_words:"true"`
	Interval            int       `yaml:"interval" split_words:"true"`
	MaxPendingTraces    int       `yaml:"max_pending_traces" split_words:"true"`
	MaxSpans            int       `yaml:"max_spans" split_words:"true"`
	MaxDescriptions     int       `yaml:"max_descriptions" split_words:"true"`
	MaxEndpoints        int       `yaml:"max_endpoints" split_words:"true"`
	SSL                 bool      `yaml:"ssl" split_words:"true"`
	Deflate             bool      `yaml:"deflate" split_words:"true"`
}

// GCConfig controls GC pause tracking.
type GCConfig struct {
	Track bool `yaml:"track" split_words:"true"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:               "agent.apmz.io",
		Port:               443,
		SSL:                true,
		Deflate:            true,
		SamplesPerInterval: 100,
		Interval:           5,
		MaxPendingTraces:   1_000,
		MaxSpans:           2_048,
		MaxDescriptions:    500,
		MaxEndpoints:       1_000,
		GC:                 GCConfig{Track: true},
		Log:                DefaultLogConfig(),
	}
}

// Load returns the defaults overlaid with APMZ_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays a YAML file on the defaults, then the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse overlays YAML bytes on the defaults, then the environment.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv only touches fields whose variables are set; none carry defaults.
func (c *Config) applyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return errors.Wrap(err, "load config from environment")
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return errors.Newf("port %d out of range", c.Port)
	case c.Interval <= 0:
		return errors.Newf("interval must be > 0, got %d", c.Interval)
	case c.SamplesPerInterval < 0:
		return errors.Newf("samples_per_interval must be >= 0, got %d", c.SamplesPerInterval)
	case c.MaxPendingTraces <= 0:
		return errors.Newf("max_pending_traces must be > 0, got %d", c.MaxPendingTraces)
	case c.MaxSpans < 0:
		return errors.Newf("max_spans must be >= 0, got %d", c.MaxSpans)
	case c.MaxDescriptions < 0:
		return errors.Newf("max_descriptions must be >= 0, got %d", c.MaxDescriptions)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	return nil
}
