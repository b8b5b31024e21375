package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapLookup(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, mapLookup(map[string]string{
		"DEBUG":                        "true",
		"FUNCTIONS_CUSTOMHANDLER_PORT": "7071",
		"STORAGE_BACKEND":              "tables",
		"STORAGE_CONNECTION_STRING":    "UseDevelopmentStorage=true",
		"EVENTS_QUEUE":                 "task-events",
		"STORAGE_INIT":                 "1",
		"CACHE_TTL":                    "30s",
		"AUTH_MODE":                    "jwks",
		"AUTH0_DOMAIN":                 "example.auth0.com",
		"BCRYPT_COST":                  "12",
		"PUBLISH_WORKERS":              "8",
		"STREAM_INTERVAL":              "2s",
		"TASKS_TABLE":                  "",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if !cfg.Debug || cfg.ListenAddr != ":7071" {
		t.Fatalf("unexpected server settings: %+v", cfg)
	}
	if cfg.Storage.Backend != "tables" || !cfg.Storage.Init || cfg.Storage.EventsQueue != "task-events" {
		t.Fatalf("unexpected storage settings: %+v", cfg.Storage)
	}
	if cfg.Storage.TasksTable != "tasks" {
		t.Fatalf("expected blank value to keep default, got %q", cfg.Storage.TasksTable)
	}
	if cfg.Redis.CacheTTL != 30*time.Second || cfg.Redis.DeduperTTL != 24*time.Hour {
		t.Fatalf("unexpected redis settings: %+v", cfg.Redis)
	}
	if cfg.Auth.Mode != "jwks" || cfg.Auth.Domain != "example.auth0.com" || cfg.Auth.BcryptCost != 12 {
		t.Fatalf("unexpected auth settings: %+v", cfg.Auth)
	}
	if cfg.Publish.Workers != 8 || cfg.Publish.Buffer != 1024 {
		t.Fatalf("unexpected publish settings: %+v", cfg.Publish)
	}
	if cfg.StreamInterval != 2*time.Second {
		t.Fatalf("unexpected stream interval: %v", cfg.StreamInterval)
	}
}

func TestApplyEnvReportsFirstInvalidValue(t *testing.T) {
	cases := map[string]string{
		"DEBUG":           "maybe",
		"PUBLISH_WORKERS": "-1",
		"CACHE_TTL":       "soon",
		"BCRYPT_COST":     "ten",
	}
	for key, val := range cases {
		cfg := Default()
		err := applyEnv(&cfg, mapLookup(map[string]string{key: val}))
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s=%s: expected error naming the key, got %v", key, val, err)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Auth.Secret = "s"
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected defaults with secret to be valid, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"local without secret", func(c *Config) { c.Auth.Secret = "" }},
		{"local without ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "magic" }},
		{"jwks without domain", func(c *Config) { c.Auth.Mode = AuthJWKS; c.Auth.Audience = "aud" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"tables without connection", func(c *Config) { c.Storage.Backend = BackendTables }},
		{"postgres without url", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"queue without connection", func(c *Config) { c.Storage.EventsQueue = "q" }},
		{"redis without channel", func(c *Config) { c.Redis.ConnectionString = "redis://x"; c.Redis.ChangesChannel = "" }},
		{"bcrypt cost too low", func(c *Config) { c.Auth.BcryptCost = 3 }},
		{"bcrypt cost too high", func(c *Config) { c.Auth.BcryptCost = 32 }},
		{"zero stream interval", func(c *Config) { c.StreamInterval = 0 }},
	}
	for _, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	tuned := valid
	tuned.Auth.BcryptCost = 31
	if err := tuned.Validate(); err != nil {
		t.Fatalf("expected max bcrypt cost to be valid, got %v", err)
	}

	none := valid
	none.Auth.Mode = AuthNone
	none.Auth.Secret = ""
	if err := none.Validate(); err != nil {
		t.Fatalf("expected auth none without secret to be valid, got %v", err)
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
listen_addr = ":9090"
stream_interval = "10s"

[storage]
backend = "Postgres"
database_url = "postgres://file"

[auth]
mode = "LOCAL"
secret = "from-file"
token_ttl = "1h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("AUTH_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.StreamInterval != 10*time.Second {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Auth.Mode != AuthLocal {
		t.Fatalf("expected modes to be normalized, got %q %q", cfg.Storage.Backend, cfg.Auth.Mode)
	}
	if cfg.Storage.DatabaseURL != "postgres://env" {
		t.Fatalf("expected env to override file, got %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Auth.Secret != "from-file" || cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("unexpected auth settings: %+v", cfg.Auth)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("listen_addr = "), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected decode error")
	}
}
