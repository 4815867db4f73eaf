package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ACCORD_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 300*time.Second, cfg.ReadRole)
	assert.Equal(t, 1800*time.Second, cfg.Negotiate)
	assert.Equal(t, 3, cfg.Parties)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accord.yaml")
	body := `
parties: 4
negotiate: 10m
store:
  backend: sqlite
  path: /tmp/a.db
archive: /var/lib/accord
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("ACCORD_CONFIG", path)
	t.Setenv("ACCORD_PARTIES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Parties, "environment wins over the file")
	assert.Equal(t, 10*time.Minute, cfg.Negotiate)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/accord", cfg.Archive)
}

func TestOverlayEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"parties", map[string]string{"ACCORD_PARTIES": "three"}},
		{"duration", map[string]string{"ACCORD_NEGOTIATE": "soon"}},
		{"rate", map[string]string{"ACCORD_RATE": "fast"}},
		{"burst", map[string]string{"ACCORD_RATE_BURST": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.overlayEnv(func(k string) string { return tt.env[k] })
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"one party", func(c *Config) { c.Parties = 1 }, true},
		{"sqlite without path", func(c *Config) { c.Store.Backend = "sqlite" }, true},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }, true},
		{"redis with dsn", func(c *Config) { c.Store = Store{Backend: "redis", DSN: "localhost:6379"} }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, true},
		{"zero negotiate", func(c *Config) { c.Negotiate = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOverlayEnv_TLS(t *testing.T) {
	env := map[string]string{"ACCORD_TLS": "true", "ACCORD_CA_FILE": "default.pem"}
	cfg := Default()
	require.NoError(t, cfg.overlayEnv(func(k string) string { return env[k] }))
	assert.True(t, cfg.TLS)
	assert.Equal(t, "default.pem", cfg.CAFile)
}
