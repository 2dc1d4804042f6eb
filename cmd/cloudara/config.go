package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultAPIURL = "http://localhost:9000"

type cliConfig struct {
	APIURL string `yaml:"api_url"`
	// Output forces "json" or "table"; empty picks by terminal.
	Output string `yaml:"output,omitempty"`
}

func defaultConfigPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "cloudara", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cloudara", "config.yaml"), nil
}

func loadConfig(path string) (cliConfig, error) {
	cfg := cliConfig{APIURL: defaultAPIURL}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cliConfig{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultAPIURL
	}
	switch cfg.Output {
	case "", "json", "table":
	default:
		return cliConfig{}, fmt.Errorf("parse %s: output must be json or table, got %q", path, cfg.Output)
	}
	return cfg, nil
}

func saveConfig(path string, cfg cliConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
