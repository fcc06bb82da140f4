package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Orchestrator.MaxIterations != 10 {
		t.Errorf("Expected default max iterations 10, got %d", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.ApprovalTimeout != 5*time.Minute {
		t.Errorf("Expected default approval timeout 5m, got %s", cfg.Orchestrator.ApprovalTimeout)
	}
	if cfg.Sweep.Retention != time.Hour {
		t.Errorf("Expected default retention 1h, got %s", cfg.Sweep.Retention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_ITERATIONS", "3")
	t.Setenv("APPROVAL_TIMEOUT", "30s")
	t.Setenv("VERIFY_COMPLETION", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.Orchestrator.MaxIterations != 3 {
		t.Errorf("Expected max iterations 3, got %d", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.ApprovalTimeout != 30*time.Second {
		t.Errorf("Expected approval timeout 30s, got %s", cfg.Orchestrator.ApprovalTimeout)
	}
	if !cfg.Orchestrator.VerifyCompletion {
		t.Error("Expected verification enabled")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "-1")
	if _, err := Load(); err == nil {
		t.Error("Expected error for negative MAX_ITERATIONS")
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "not-a-number")
	t.Setenv("APPROVAL_TIMEOUT", "garbage")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Orchestrator.MaxIterations != 10 {
		t.Errorf("Expected fallback 10, got %d", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.ApprovalTimeout != 5*time.Minute {
		t.Errorf("Expected fallback 5m, got %s", cfg.Orchestrator.ApprovalTimeout)
	}
}

func TestIsDevelopment(t *testing.T) {
	cases := []struct {
		frontend string
		want     bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://app.example.com", false},
	}
	for _, tc := range cases {
		cfg := &Config{FrontendURL: tc.frontend}
		if got := cfg.IsDevelopment(); got != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.frontend, got, tc.want)
		}
	}
}
