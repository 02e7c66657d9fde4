package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret is not configured.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. When KEY
// is unset, KEY_FILE may name a file holding the value (as mounted by
// Docker or Kubernetes secrets).
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	path, ok := os.LookupEnv(key + "_FILE")
	if !ok || path == "" {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	b, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return "", fmt.Errorf("failed to read secret file for %s: %w", key, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credentials from the environment, honoring the
// *_FILE indirection.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets fills credentials from store. Missing secrets keep their
// current values.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	str := func(key string, dst *string) error {
		v, err := store.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	list := func(key string, dst *[]string) error {
		var raw string
		if err := str(key, &raw); err != nil || raw == "" {
			return err
		}
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		*dst = keys
		return nil
	}

	if err := str("RANKKIT_STORAGE_SQL_DSN", &c.Storage.SQL.DSN); err != nil {
		return err
	}
	if err := str("RANKKIT_STORAGE_REDIS_PASSWORD", &c.Storage.Redis.Password); err != nil {
		return err
	}
	if err := list("RANKKIT_SECURITY_API_KEYS", &c.Security.APIKeys); err != nil {
		return err
	}
	return list("RANKKIT_SECURITY_ADMIN_KEYS", &c.Security.AdminKeys)
}
