package config

import (
	"fmt"
	"time"
)

// ProxyConfig holds runtime configuration for the reverse proxy.
type ProxyConfig struct {
	Addr            string        `env:"PROXY_ADDR" envDefault:":8000"`
	AdminAddr       string        `env:"ADMIN_ADDR" envDefault:":8001"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile         string        `env:"LOG_FILE"`
	APIURL          string        `env:"API_URL" envDefault:"http://localhost:9000"`
	ArtifactBaseURL string        `env:"ARTIFACT_BASE_URL,required"`
	BaseDomain      string        `env:"BASE_DOMAIN"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	LookupTimeout   time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"3s"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"15s"`
}

// LoadProxyConfig constructs a ProxyConfig from the environment.
func LoadProxyConfig() (ProxyConfig, error) {
	var cfg ProxyConfig
	if err := parse(&cfg); err != nil {
		return ProxyConfig{}, err
	}
	if cfg.CacheTTL <= 0 {
		return ProxyConfig{}, fmt.Errorf("CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	if cfg.LookupTimeout <= 0 {
		return ProxyConfig{}, fmt.Errorf("LOOKUP_TIMEOUT must be positive, got %s", cfg.LookupTimeout)
	}
	return cfg, nil
}
