package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankkit/core"
)

func TestLoad(t *testing.T) {
	// Test loading default config
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify defaults
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Minute, cfg.Ranking.RecalculateInterval)
	assert.Equal(t, 70, cfg.Ranking.MasteryScore)
	assert.Equal(t, "async", cfg.Ranking.DispatchMode)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RANKKIT_SERVER_ADDR", ":7070")
	t.Setenv("RANKKIT_RANKING_RECALCULATE_INTERVAL", "30s")
	t.Setenv("RANKKIT_RANKING_PARTITIONS", "weekly:math, all-time")
	t.Setenv("RANKKIT_SECURITY_ADMIN_KEYS", "k1,k2")
	t.Setenv("RANKKIT_STORAGE_REDIS_ADDR", "redis:6379")
	t.Setenv("RANKKIT_WEBHOOK_ENDPOINTS", "https://hooks.example/rank")
	t.Setenv("RANKKIT_RANKING_TOP_LANGUAGES", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Ranking.RecalculateInterval)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.AdminKeys)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, []string{"https://hooks.example/rank"}, cfg.Webhook.Endpoints)
	assert.Equal(t, 3, cfg.Ranking.TopLanguages)

	parts, err := cfg.Ranking.ParsedPartitions()
	require.NoError(t, err)
	assert.Equal(t, []core.Partition{
		{Period: core.PeriodWeekly, Category: "math"},
		{Period: core.PeriodAllTime},
	}, parts)
}

func TestLoadRejectsInvalidRanking(t *testing.T) {
	t.Setenv("RANKKIT_RANKING_PARTITIONS", "daily")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ranking config")

	t.Setenv("RANKKIT_RANKING_PARTITIONS", "")
	t.Setenv("RANKKIT_RANKING_MASTERY_SCORE", "101")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("RANKKIT_RANKING_MASTERY_SCORE", "")
	t.Setenv("RANKKIT_RANKING_TOP_LANGUAGES", "-1")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top_languages")
}

func TestWebhookValidation(t *testing.T) {
	w := WebhookConfig{Endpoints: []string{"ftp://x"}, Timeout: time.Second}
	assert.Error(t, w.Validate())
	w = WebhookConfig{Endpoints: []string{"http://x"}}
	assert.Error(t, w.Validate())
	w = WebhookConfig{Endpoints: []string{"http://x"}, Timeout: time.Second, Events: []string{"level_up"}}
	assert.NoError(t, w.Validate())
	w.Events = []string{"points_added"}
	assert.Error(t, w.Validate())
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://user:pw@db/rank"
	cfg.Security.AdminKeys = []string{"super-secret"}
	out := cfg.String()
	assert.NotContains(t, out, "pw@db")
	assert.NotContains(t, out, "super-secret")
	assert.True(t, strings.Contains(out, "[REDACTED]"))
	assert.Equal(t, []string{"super-secret"}, cfg.Security.AdminKeys)
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		}
	}`

	tmpFile, err := os.CreateTemp("", "config_test_*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	tmpFile.Close()

	// Load config from file
	cfg, err := LoadFromFile(tmpFile.Name())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid environment", mutate: func(c *Config) { c.Environment = "" }, expectError: true},
		{name: "invalid server timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }, expectError: true},
		{name: "unknown adapter", mutate: func(c *Config) { c.Storage.Adapter = "mongo" }, expectError: true},
		{name: "sql without dsn", mutate: func(c *Config) {
			c.Storage.Adapter = "sql"
			c.Storage.SQL.DSN = ""
		}, expectError: true},
		{name: "page size above max", mutate: func(c *Config) { c.Ranking.DefaultPageSize = 500 }, expectError: true},
		{name: "negative interval", mutate: func(c *Config) { c.Ranking.RecalculateInterval = -time.Second }, expectError: true},
		{name: "disabled scheduler", mutate: func(c *Config) { c.Ranking.RecalculateInterval = 0 }},
		{name: "bad dispatch mode", mutate: func(c *Config) { c.Ranking.DispatchMode = "later" }, expectError: true},
		{name: "empty admin key", mutate: func(c *Config) { c.Security.AdminKeys = []string{" "} }, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
	}{
		{"development", "development", true, EnvDevelopment},
		{"testing", "testing", true, EnvTesting},
		{"staging", "staging", true, EnvStaging},
		{"production", "production", true, EnvProduction},
		{"unknown", "unknown", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
}

func TestLoadSecretsFromFile(t *testing.T) {
	dir := t.TempDir()
	dsnFile := filepath.Join(dir, "dsn")
	require.NoError(t, os.WriteFile(dsnFile, []byte("postgres://secret@db/rank\n"), 0o600))
	t.Setenv("RANKKIT_STORAGE_SQL_DSN_FILE", dsnFile)
	t.Setenv("RANKKIT_SECURITY_ADMIN_KEYS", " a , b ")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadSecretsFromEnv(context.Background()))
	assert.Equal(t, "postgres://secret@db/rank", cfg.Storage.SQL.DSN)
	assert.Equal(t, []string{"a", "b"}, cfg.Security.AdminKeys)
	assert.Empty(t, cfg.Storage.Redis.Password)

	t.Setenv("RANKKIT_STORAGE_REDIS_PASSWORD_FILE", filepath.Join(dir, "missing"))
	assert.Error(t, cfg.LoadSecretsFromEnv(context.Background()))
}

func TestSecrets(t *testing.T) {
	// Test environment secret store
	store := NewEnvironmentSecretStore()

	// Set test environment variable
	testKey := "TEST_SECRET_KEY"
	testValue := "test_secret_value"
	os.Setenv(testKey, testValue)
	defer os.Unsetenv(testKey)

	ctx := context.Background()

	// Test Get
	value, err := store.Get(ctx, testKey)
	assert.NoError(t, err)
	assert.Equal(t, testValue, value)

	// Test GetWithDefault
	defaultValue := "default"
	value = store.GetWithDefault(ctx, "NONEXISTENT_KEY", defaultValue)
	assert.Equal(t, defaultValue, value)

	value = store.GetWithDefault(ctx, testKey, defaultValue)
	assert.Equal(t, testValue, value)
}

func TestValidateConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		expectError bool
		setup       func() string // returns path to cleanup
	}{
		{
			name:        "valid json file",
			path:        "config_test.json",
			expectError: false,
			setup: func() string {
				tmpFile, _ := os.CreateTemp("", "config_test_*.json")
				tmpFile.WriteString("{}")
				tmpFile.Close()
				return tmpFile.Name()
			},
		},
		{
			name:        "empty path",
			path:        "",
			expectError: true,
			setup:       func() string { return "" },
		},
		{
			name:        "path traversal",
			path:        "../../../etc/passwd",
			expectError: true,
			setup:       func() string { return "" },
		},
		{
			name:        "non-json file",
			path:        "config.txt",
			expectError: true,
			setup: func() string {
				tmpFile, _ := os.CreateTemp("", "config_test_*.txt")
				tmpFile.WriteString("{}")
				tmpFile.Close()
				return tmpFile.Name()
			},
		},
		{
			name:        "nonexistent file",
			path:        "nonexistent.json",
			expectError: true,
			setup:       func() string { return "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanupPath := tt.setup()
			if cleanupPath != "" {
				defer os.Remove(cleanupPath)
				if tt.path == "config_test.json" || tt.path == "config.txt" {
					tt.path = cleanupPath
				}
			}

			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	vars := map[string]string{
		"RANKKIT_LOG_ATTRIBUTES":             "region=eu, team = ranking",
		"RANKKIT_SECURITY_API_KEYS":          "a,, b ,",
		"RANKKIT_RANKING_XP_PER_LEVEL":       "250",
		"RANKKIT_WEBHOOK_TIMEOUT":            "750ms",
		"RANKKIT_METRICS_ENABLED":            "true",
		"RANKKIT_STORAGE_SQL_MAX_OPEN_CONNS": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, applyEnv(cfg, lookup))
	assert.Equal(t, map[string]string{"region": "eu", "team": "ranking"}, cfg.Logging.Attributes)
	assert.Equal(t, []string{"a", "b"}, cfg.Security.APIKeys)
	assert.Equal(t, int64(250), cfg.Ranking.XPPerLevel)
	assert.Equal(t, 750*time.Millisecond, cfg.Webhook.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	vars := map[string]string{
		"RANKKIT_RANKING_MAX_RADIUS": "wide",
		"RANKKIT_WEBHOOK_TIMEOUT":    "soon",
		"RANKKIT_LOG_ATTRIBUTES":     "novalue",
	}
	lookup := func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}

	err := applyEnv(DefaultConfig(), lookup)
	require.Error(t, err)
	for name := range vars {
		assert.Contains(t, err.Error(), name)
	}
	assert.Error(t, applyEnv(Config{}, lookup))
}
