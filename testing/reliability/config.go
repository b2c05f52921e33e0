// Package reliability stresses apmz with adversarial instrumentation.
// Tests skip unless APMZ_RELIABILITY_LEVEL is "basic" or "stress".
package reliability

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level         string        `default:""`
	Duration      time.Duration `default:"30s"`
	MaxGoroutines int           `default:"100" split_words:"true"`
	Seed          int64         `default:"1"`
}

// getReliabilityConfig reads APMZ_RELIABILITY_* variables. Malformed values
// fall back to the defaults.
func getReliabilityConfig() ReliabilityConfig {
	var cfg ReliabilityConfig
	if err := envconfig.Process("apmz_reliability", &cfg); err != nil {
		return ReliabilityConfig{Duration: 30 * time.Second, MaxGoroutines: 100, Seed: 1}
	}
	return cfg
}
