package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	AppName     = "sportdesk"
	EnvFileName = "config.env"
	DBFileName  = "session.db"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	APIBaseURL  string `env:"API_BASE_URL,required"`
	AuthBaseURL string `env:"AUTH_BASE_URL"`

	TokenLifetime        time.Duration `env:"AUTH_TOKEN_LIFETIME"         envDefault:"15m"`
	RefreshBuffer        time.Duration `env:"AUTH_REFRESH_BUFFER"         envDefault:"1m"`
	RefreshTimeout       time.Duration `env:"AUTH_REFRESH_TIMEOUT"        envDefault:"10s"`
	MaxProactiveFailures int           `env:"AUTH_MAX_PROACTIVE_FAILURES" envDefault:"0"`
	DecodeJWTExpiry      bool          `env:"AUTH_DECODE_JWT_EXPIRY"      envDefault:"false"`

	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT"     envDefault:"30s"`
	CacheStaleTime time.Duration `env:"CACHE_STALE_TIME" envDefault:"30s"`

	// StorageBackend is one of sqlite, redis or memory.
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	// StoragePath defaults to session.db in the config directory.
	StoragePath string `env:"STORAGE_PATH"`
	// StorageKey encrypts stored credentials when set.
	StorageKey string `env:"STORAGE_KEY"`
	RedisURL   string `env:"REDIS_URL"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

// Dir returns the application's directory under the user's config directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already set in the environment take precedence.
func LoadEnvFile() {
	dir, err := Dir()
	if err != nil {
		return
	}
	_ = godotenv.Load(filepath.Join(dir, EnvFileName))
}

// Load reads the config file and parses the environment into a Config.
func Load() (*Config, error) {
	LoadEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendSQLite:
		if c.StoragePath == "" {
			dir, err := Dir()
			if err != nil {
				return fmt.Errorf("no STORAGE_PATH and no config directory: %w", err)
			}
			c.StoragePath = filepath.Join(dir, DBFileName)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis storage backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}
