package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("MAX_WORKERS_CAP", "")
	t.Setenv("WORKER_IDLE_TIMEOUT", "")
	t.Setenv("VISIBLE_CARDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.NATSURL != "" {
		t.Fatalf("NATS should be disabled by default, got %s", cfg.NATSURL)
	}
	if cfg.Subject != "proxyprep.import" {
		t.Fatalf("unexpected subject: %s", cfg.Subject)
	}
	if cfg.DatabasePath != "./data/proxyprep.db" {
		t.Fatalf("unexpected database path: %s", cfg.DatabasePath)
	}
	if cfg.MaxWorkersCap != 8 || cfg.IdleTimeout != 20*time.Second || cfg.Visible != 9 {
		t.Fatalf("unexpected pool settings: cap=%d idle=%s visible=%d", cfg.MaxWorkersCap, cfg.IdleTimeout, cfg.Visible)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MAX_WORKERS_CAP", "18")
	t.Setenv("WORKER_IDLE_TIMEOUT", "5s")
	t.Setenv("PROXYPREP_SUBJECT", "cards")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxWorkersCap != 18 || cfg.IdleTimeout != 5*time.Second || cfg.Subject != "cards" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MAX_WORKERS_CAP", "not-a-number"},
		{"MAX_WORKERS_CAP", "0"},
		{"WORKER_IDLE_TIMEOUT", "soon"},
		{"WORKER_IDLE_TIMEOUT", "-1s"},
		{"VISIBLE_CARDS", "-3"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
