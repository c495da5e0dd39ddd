// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the server's configuration.
type Config struct {
	Port             string        `env:"PORT" envDefault:"8080"`
	DBPath           string        `env:"DB_PATH" envDefault:"games.db"`
	WebDir           string        `env:"WEB_DIR" envDefault:"web"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"console"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1m"`
	SessionMaxAge    time.Duration `env:"SESSION_MAX_AGE" envDefault:"1h"`
	UndoMaxSnapshots int           `env:"UNDO_MAX_SNAPSHOTS" envDefault:"50"`
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }

// Load reads the optional dotenv files, then the environment. Variables
// already set win over dotenv values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.UndoMaxSnapshots < 0 {
		return Config{}, fmt.Errorf("UNDO_MAX_SNAPSHOTS must not be negative, got %d", cfg.UndoMaxSnapshots)
	}
	return cfg, nil
}
