package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string `env:"API_ADDR" envDefault:":8787"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:dct.db?_pragma=busy_timeout(5000)"`
	// InternalToken guards /api/dct and /api/sot-events when set.
	InternalToken string `env:"DCT_INTERNAL_TOKEN"`
	CORSOrigin    string `env:"DCT_CORS_ORIGIN" envDefault:"*"`
	LogLevel      string `env:"DCT_LOG_LEVEL" envDefault:"info"`

	// Redis projection cache; disabled when empty.
	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"DCT_CACHE_TTL" envDefault:"5m"`

	// Meilisearch idea index; disabled when empty.
	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`

	DefaultTake int `env:"DCT_PROJECTION_DEFAULT_TAKE" envDefault:"2000"`
	MaxTake     int `env:"DCT_PROJECTION_MAX_TAKE" envDefault:"5000"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.MaxTake < 1 {
		return fmt.Errorf("DCT_PROJECTION_MAX_TAKE must be positive, got %d", c.MaxTake)
	}
	if c.DefaultTake < 1 || c.DefaultTake > c.MaxTake {
		return fmt.Errorf("DCT_PROJECTION_DEFAULT_TAKE must be within 1..%d, got %d", c.MaxTake, c.DefaultTake)
	}
	return nil
}

// Driver returns the database/sql driver name for DatabaseURL.
func (c Config) Driver() string {
	url := strings.ToLower(strings.TrimSpace(c.DatabaseURL))
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "pgx"
	}
	return "sqlite"
}
