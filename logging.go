package apmz

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig defines logger configuration.
type LogConfig struct {
	Level       string   `yaml:"level" split_words:"true"`
	OutputPaths []string `yaml:"output_paths" split_words:"true"`
	Development bool     `yaml:"development" split_words:"true"`
}

// DefaultLogConfig returns the production logger configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		OutputPaths: []string{"stderr"},
	}
}

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	encoding := "json"
	encoder := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encoding = "console"
		encoder = zap.NewDevelopmentEncoderConfig()
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoder.TimeKey = "timestamp"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoder,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger.Named("apmz"), nil
}
