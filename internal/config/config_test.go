package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NNEXEC_MODEL", "gs://models/tiny.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
	if cfg.CacheDir == "" {
		t.Errorf("cache dir must default to a non-empty path")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NNEXEC_MODEL", "/srv/models/tiny.json")
	t.Setenv("NNEXEC_LISTEN", ":9999")
	t.Setenv("NNEXEC_CACHE_DIR", "/var/cache/nnexec")
	t.Setenv("NNEXEC_SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.CacheDir != "/var/cache/nnexec" || cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadDefersModelValidation(t *testing.T) {
	// Load must succeed without NNEXEC_MODEL so a -model flag can still
	// fill it in; Validate is what rejects the final empty value.
	t.Setenv("NNEXEC_MODEL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load must tolerate an unset model: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an empty model")
	}

	cfg.Model = "/srv/models/tiny.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error after setting model: %v", err)
	}
}
