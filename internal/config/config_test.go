package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTPAddr)
	}
	if cfg.SessionTTL != 30*time.Minute || cfg.CancelDelay != time.Second {
		t.Fatalf("unexpected durations: ttl=%v cancel=%v", cfg.SessionTTL, cfg.CancelDelay)
	}
	if cfg.RollbackOnRecapture {
		t.Fatal("recapture rollback must be off by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("FACE_SERVICE_ADDR", "localhost:6000")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("CANCEL_DELAY", "250ms")
	t.Setenv("ROLLBACK_ON_RECAPTURE", "true")
	t.Setenv("BCRYPT_COST", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.FaceServiceAddr != "localhost:6000" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.SessionTTL != 5*time.Minute || cfg.CancelDelay != 250*time.Millisecond {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if !cfg.RollbackOnRecapture || cfg.BcryptCost != 12 {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SESSION_TTL":  "0s",
		"CANCEL_DELAY": "-1s",
		"BCRYPT_COST":  "2",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}
