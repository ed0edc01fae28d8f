package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Log.Branch != "main" {
		t.Fatalf("branch = %q, want main", cfg.Log.Branch)
	}
	if cfg.Metrics.TrendWindow != 50 {
		t.Fatalf("trend_window = %d, want 50", cfg.Metrics.TrendWindow)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("metrics:\n  trend_window: 10\n  throughput_days: 3\n"))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Metrics.TrendWindow != 10 {
		t.Fatalf("trend_window = %d, want 10", cfg.Metrics.TrendWindow)
	}
	if cfg.Log.Branch != "main" {
		t.Fatalf("branch default lost: %q", cfg.Log.Branch)
	}
}

func TestValidateRejectsUnknownFactor(t *testing.T) {
	_, err := FromYAML([]byte("scoring:\n  weights:\n    urgency: 0.5\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown factor") {
		t.Fatalf("err = %v, want unknown factor", err)
	}
}

func TestValidateRejectsBadLearningRate(t *testing.T) {
	_, err := FromYAML([]byte("scoring:\n  learning_rate: 2\n"))
	if err == nil || !strings.Contains(err.Error(), "learning_rate") {
		t.Fatalf("err = %v, want learning_rate error", err)
	}
}
