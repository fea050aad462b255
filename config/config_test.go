package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Prefix != "nooble4" {
		t.Errorf("default prefix = %q", cfg.Prefix)
	}
	if cfg.Environment != EnvDev {
		t.Errorf("default environment = %q", cfg.Environment)
	}
	if cfg.DefaultRequestTimeout != 30*time.Second {
		t.Errorf("default request timeout = %v", cfg.DefaultRequestTimeout)
	}
}

func TestLoadOverridesOnlyWhatIsSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentcomm.toml")
	content := `
service_name = "orchestrator"
environment = "staging"
default_request_timeout = "5s"
send_retries = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServiceName != "orchestrator" {
		t.Errorf("service name = %q", cfg.ServiceName)
	}
	if cfg.Environment != "staging" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.DefaultRequestTimeout != 5*time.Second {
		t.Errorf("request timeout = %v", cfg.DefaultRequestTimeout)
	}
	if cfg.SendRetries != 5 {
		t.Errorf("send retries = %d", cfg.SendRetries)
	}
	// Untouched fields keep their defaults
	if cfg.Prefix != "nooble4" {
		t.Errorf("prefix should keep its default, got %q", cfg.Prefix)
	}
	if cfg.StalenessThreshold != 24*time.Hour {
		t.Errorf("staleness threshold should keep its default, got %v", cfg.StalenessThreshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("loading a missing file should error")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte(`default_request_timeout = "not-a-duration"`), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("invalid duration should error")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("NOOBLE_SERVICE_NAME", "query")
	t.Setenv("NOOBLE_ENVIRONMENT", "prod")
	t.Setenv("NOOBLE_BROKER_ADDR", "redis:6379")
	t.Setenv("NOOBLE_REQUEST_TIMEOUT", "45s")

	cfg := Default().FromEnv()
	if cfg.ServiceName != "query" {
		t.Errorf("service name = %q", cfg.ServiceName)
	}
	if cfg.Environment != "prod" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.BrokerAddr != "redis:6379" {
		t.Errorf("broker addr = %q", cfg.BrokerAddr)
	}
	if cfg.DefaultRequestTimeout != 45*time.Second {
		t.Errorf("request timeout = %v", cfg.DefaultRequestTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("config without service_name should fail validation")
	}
	cfg.ServiceName = "gateway"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
