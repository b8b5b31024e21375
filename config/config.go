// Package config loads service settings from an optional TOML file, an
// optional .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	BackendMemory   = "memory"
	BackendTables   = "tables"
	BackendPostgres = "postgres"

	AuthLocal = "local"
	AuthJWKS  = "jwks"
	AuthNone  = "none"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Debug      bool   `toml:"debug"`
	ListenAddr string `toml:"listen_addr"`

	Storage StorageConfig `toml:"storage"`
	Redis   RedisConfig   `toml:"redis"`
	Auth    AuthConfig    `toml:"auth"`
	Publish PublishConfig `toml:"publish"`

	StreamInterval time.Duration `toml:"stream_interval"`
}

type StorageConfig struct {
	Backend          string `toml:"backend"`
	ConnectionString string `toml:"connection_string"`
	TasksTable       string `toml:"tasks_table"`
	UsersTable       string `toml:"users_table"`
	EventsQueue      string `toml:"events_queue"`
	Init             bool   `toml:"init"`
	DatabaseURL      string `toml:"database_url"`
}

type RedisConfig struct {
	ConnectionString string        `toml:"connection_string"`
	CacheTTL         time.Duration `toml:"cache_ttl"`
	DeduperTTL       time.Duration `toml:"deduper_ttl"`
	ChangesChannel   string        `toml:"changes_channel"`
}

type AuthConfig struct {
	Mode         string        `toml:"mode"`
	Secret       string        `toml:"secret"`
	TokenTTL     time.Duration `toml:"token_ttl"`
	Domain       string        `toml:"domain"`
	Audience     string        `toml:"audience"`
	JWKSCacheTTL time.Duration `toml:"jwks_cache_ttl"`
	BcryptCost   int           `toml:"bcrypt_cost"`
}

type PublishConfig struct {
	Workers        int           `toml:"workers"`
	Buffer         int           `toml:"buffer"`
	Timeout        time.Duration `toml:"timeout"`
	HandoffTimeout time.Duration `toml:"handoff_timeout"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Storage: StorageConfig{
			Backend:    BackendMemory,
			TasksTable: "tasks",
			UsersTable: "users",
		},
		Redis: RedisConfig{
			CacheTTL:       5 * time.Minute,
			DeduperTTL:     24 * time.Hour,
			ChangesChannel: "task-changes",
		},
		Auth: AuthConfig{
			Mode:         AuthLocal,
			TokenTTL:     72 * time.Hour,
			JWKSCacheTTL: 15 * time.Minute,
		},
		Publish: PublishConfig{
			Workers:        4,
			Buffer:         1024,
			Timeout:        30 * time.Second,
			HandoffTimeout: 15 * time.Millisecond,
		},
		StreamInterval: 5 * time.Second,
	}
}

// Load builds a Config from CONFIG_FILE, .env and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	cfg.Auth.Mode = strings.ToLower(cfg.Auth.Mode)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.bool("DEBUG", &cfg.Debug)
	e.str("LISTEN_ADDR", &cfg.ListenAddr)
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}

	e.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	e.str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	e.str("TASKS_TABLE", &cfg.Storage.TasksTable)
	e.str("USERS_TABLE", &cfg.Storage.UsersTable)
	e.str("EVENTS_QUEUE", &cfg.Storage.EventsQueue)
	e.bool("STORAGE_INIT", &cfg.Storage.Init)
	e.str("DATABASE_URL", &cfg.Storage.DatabaseURL)

	e.str("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	e.dur("CACHE_TTL", &cfg.Redis.CacheTTL)
	e.dur("DEDUPER_TTL", &cfg.Redis.DeduperTTL)
	e.str("CHANGES_CHANNEL", &cfg.Redis.ChangesChannel)

	e.str("AUTH_MODE", &cfg.Auth.Mode)
	e.str("AUTH_SECRET", &cfg.Auth.Secret)
	e.dur("AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)
	e.str("AUTH0_DOMAIN", &cfg.Auth.Domain)
	e.str("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	e.dur("JWKS_CACHE_TTL", &cfg.Auth.JWKSCacheTTL)
	e.int("BCRYPT_COST", &cfg.Auth.BcryptCost)

	e.int("PUBLISH_WORKERS", &cfg.Publish.Workers)
	e.int("PUBLISH_BUFFER", &cfg.Publish.Buffer)
	e.dur("PUBLISH_TIMEOUT", &cfg.Publish.Timeout)
	e.dur("PUBLISH_HANDOFF_TIMEOUT", &cfg.Publish.HandoffTimeout)

	e.dur("STREAM_INTERVAL", &cfg.StreamInterval)
	return e.err
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendTables:
		if c.Storage.ConnectionString == "" || c.Storage.TasksTable == "" || c.Storage.UsersTable == "" {
			return errors.New("missing storage config")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("missing DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Storage.EventsQueue != "" && c.Storage.ConnectionString == "" {
		return errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}

	if c.Redis.ConnectionString != "" && c.Redis.ChangesChannel == "" {
		return errors.New("CHANGES_CHANNEL must be set when Redis is configured")
	}

	switch c.Auth.Mode {
	case AuthLocal:
		if c.Auth.Secret == "" {
			return errors.New("AUTH_SECRET must be set when AUTH_MODE=local")
		}
		if c.Auth.TokenTTL <= 0 {
			return errors.New("AUTH_TOKEN_TTL must be positive")
		}
	case AuthJWKS:
		if c.Auth.Domain == "" || c.Auth.Audience == "" {
			return errors.New("missing Auth0 config")
		}
	case AuthNone:
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.Auth.Mode)
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.StreamInterval <= 0 {
		return errors.New("STREAM_INTERVAL must be positive")
	}
	return nil
}

type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.fail(key, errors.New("must be a non-negative integer"))
		return
	}
	*dst = n
}

func (e *envReader) dur(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.fail(key, errors.New("must be a non-negative duration"))
		return
	}
	*dst = d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
