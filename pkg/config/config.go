package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// dotEnvFiles are loaded in order when present. Variables already set in the
// process environment always win.
var dotEnvFiles = []string{".env.local", ".env"}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func loadDotEnv() error {
	for _, name := range dotEnvFiles {
		if _, err := os.Stat(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(name); err != nil {
			return err
		}
	}
	return nil
}

func parse[T any](cfg *T) error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	return env.Parse(cfg)
}
