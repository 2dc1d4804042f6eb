package config

import (
	"os"
	"testing"
	"time"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	unsetEnv(t, "DISPATCH_TIMEOUT")
	t.Setenv("WORKER_ENV", "API_URL=http://api:9000,NATS_URL=nats://nats:4222")

	cfg, err := LoadAPIConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DispatchTimeout != 30*time.Second {
		t.Fatalf("expected 30s dispatch timeout, got %s", cfg.DispatchTimeout)
	}
	if cfg.WorkerEnv["NATS_URL"] != "nats://nats:4222" {
		t.Fatalf("expected worker env to be parsed, got %v", cfg.WorkerEnv)
	}
}

func TestLoadBuilderConfigRequiresContract(t *testing.T) {
	unsetEnv(t, "GIT_REPOSITORY__URL", "PROJECT_ID", "DEPLOYEMENT_ID")
	if _, err := LoadBuilderConfig(); err == nil {
		t.Fatalf("expected error when job contract is missing")
	}
}

func TestLoadBuilderConfig(t *testing.T) {
	t.Setenv("GIT_REPOSITORY__URL", "https://github.com/acme/site.git")
	t.Setenv("PROJECT_ID", "p1")
	t.Setenv("DEPLOYEMENT_ID", "d1")
	unsetEnv(t, "OUTPUT_DIR")

	cfg, err := LoadBuilderConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputDir != "dist" {
		t.Fatalf("expected dist output dir, got %q", cfg.OutputDir)
	}
	if cfg.DeploymentID != "d1" {
		t.Fatalf("expected deployment id d1, got %q", cfg.DeploymentID)
	}
}

func TestLoadProxyConfigCacheTTL(t *testing.T) {
	t.Setenv("ARTIFACT_BASE_URL", "http://minio:9000/cloudara-outputs/__outputs")
	unsetEnv(t, "CACHE_TTL")

	cfg, err := LoadProxyConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.CacheTTL)
	}
}

func TestLoadProxyConfigRejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("ARTIFACT_BASE_URL", "http://minio:9000/cloudara-outputs/__outputs")
	for _, raw := range []string{"0s", "-1m"} {
		t.Setenv("CACHE_TTL", raw)
		if _, err := LoadProxyConfig(); err == nil {
			t.Fatalf("expected error for CACHE_TTL=%s", raw)
		}
	}
}

func TestGetString(t *testing.T) {
	unsetEnv(t, "CLOUDARA_TEST_STRING")
	if got := GetString("CLOUDARA_TEST_STRING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("CLOUDARA_TEST_STRING", "   ")
	if got := GetString("CLOUDARA_TEST_STRING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for blank value, got %q", got)
	}
	t.Setenv("CLOUDARA_TEST_STRING", "http://api:9000")
	if got := GetString("CLOUDARA_TEST_STRING", "fallback"); got != "http://api:9000" {
		t.Fatalf("expected env value, got %q", got)
	}
}
