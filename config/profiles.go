package config

import (
	"fmt"
	"time"
)

// profileConfig returns the base configuration for a named deployment profile.
func profileConfig(name string) (*Config, bool) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case "testing":
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Ranking.DispatchMode = "sync"
		cfg.Ranking.RecalculateInterval = 0
	case "staging":
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Security.EnableRateLimit = true
		cfg.Metrics.Enabled = true
	case "production":
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Server.CORSOrigin = ""
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 120
		cfg.Security.RateLimit.BurstSize = 20
		cfg.Metrics.Enabled = true
		cfg.Ranking.RecalculateInterval = time.Minute
	default:
		return nil, false
	}
	return cfg, true
}

// LoadProfile returns the named profile with environment overrides applied.
func LoadProfile(name string) (*Config, error) {
	cfg, ok := profileConfig(name)
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	// RANKKIT_PROFILE does not rename an explicitly loaded profile
	cfg.Profile = name
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
