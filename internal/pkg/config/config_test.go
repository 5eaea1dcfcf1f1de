package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/scanalyzer?sslmode=disable")
	t.Setenv("REDIS_ADDR", "redis://localhost:6379/0")
	t.Setenv("API_KEYS", "k1,k2")
	t.Setenv("TRIGGER_LEVEL_CODES", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[1] != "k2" {
		t.Errorf("unexpected api keys: %v", cfg.APIKeys)
	}
	if len(cfg.TriggerLevelCodes) != 1 || cfg.TriggerLevelCodes[0] != 1 {
		t.Errorf("unexpected trigger level codes: %v", cfg.TriggerLevelCodes)
	}
	if cfg.ClassifierTimeout != 2*time.Second {
		t.Errorf("expected default classifier timeout 2s, got %v", cfg.ClassifierTimeout)
	}
	if cfg.PauseScope != "hub" {
		t.Errorf("expected default pause scope hub, got %q", cfg.PauseScope)
	}
	if len(cfg.AlertLabels) != 1 || cfg.AlertLabels[0] != "anomaly" {
		t.Errorf("unexpected alert labels: %v", cfg.AlertLabels)
	}
	if cfg.APIKeyDBLookup || cfg.APIKeyCacheTTL != 5*time.Minute {
		t.Errorf("unexpected api key lookup defaults: %v %v", cfg.APIKeyDBLookup, cfg.APIKeyCacheTTL)
	}
	if cfg.DispatchNotifier != "stdout" || cfg.SSEBufferSize != 64 {
		t.Errorf("unexpected defaults: notifier=%q sse buffer=%d", cfg.DispatchNotifier, cfg.SSEBufferSize)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("REDIS_ADDR", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for missing required variables, got nil")
	}
}
