package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom("does-not-exist.yaml")
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.HITL.ApprovalExpiry != 30*time.Minute {
		t.Errorf("expected default approval_expiry 30m, got %s", cfg.HITL.ApprovalExpiry)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	data := []byte("server:\n  port: \"9090\"\nhitl:\n  default_action_limit: 25\nbudget:\n  reset_window: rolling_24h\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.HITL.DefaultActionLimit != 25 {
		t.Errorf("expected action limit 25, got %d", cfg.HITL.DefaultActionLimit)
	}
	if cfg.Budget.ResetWindow != "rolling_24h" {
		t.Errorf("expected rolling_24h, got %s", cfg.Budget.ResetWindow)
	}
	// Untouched sections keep defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HELMSMAN_PORT", "7070")
	t.Setenv("HELMSMAN_WORKFLOW_RETRY_BASE_DELAY", "2s")
	t.Setenv("DATABASE_URL", "postgres://env-wins")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should win over yaml, got %s", cfg.Server.Port)
	}
	if cfg.Workflow.RetryBaseDelay != 2*time.Second {
		t.Errorf("expected 2s retry base delay, got %s", cfg.Workflow.RetryBaseDelay)
	}
	if cfg.Postgres.DSN != "postgres://env-wins" {
		t.Errorf("expected env DSN, got %s", cfg.Postgres.DSN)
	}
}

func TestLoadFromRejectsBadResetWindow(t *testing.T) {
	t.Setenv("HELMSMAN_BUDGET_RESET_WINDOW", "weekly")
	if _, err := LoadFrom("does-not-exist.yaml"); err == nil {
		t.Fatal("expected validation error for bad reset window")
	}
}

func TestLoadFromRequiresKeyHashWhenAuthEnabled(t *testing.T) {
	t.Setenv("HELMSMAN_AUTH_ENABLED", "true")
	if _, err := LoadFrom("does-not-exist.yaml"); err == nil {
		t.Fatal("expected validation error when auth enabled without key hash")
	}
}

func TestLoadFromRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helmsman.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}
