package config

import (
	"testing"
)

func TestNewAppliesSpecDefaults(t *testing.T) {
	cfg := New()

	if cfg.Daemon.GraceShutdownS != 5 {
		t.Fatalf("expected default grace shutdown 5s, got %d", cfg.Daemon.GraceShutdownS)
	}
	if cfg.Daemon.HealthTimeoutS != 60 {
		t.Fatalf("expected default health timeout 60s, got %d", cfg.Daemon.HealthTimeoutS)
	}
	if cfg.Match.AutoThreshold != 0.90 {
		t.Fatalf("expected default auto threshold 0.90, got %v", cfg.Match.AutoThreshold)
	}
	if cfg.Match.AutoPost {
		t.Fatalf("auto-post must default to off per the Open Questions resolution")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_DAEMON_GRACE_SHUTDOWN_S", "12")
	t.Setenv("LEDGER_MATCH_AUTO_THRESHOLD", "0.95")
	t.Setenv("LEDGER_EGRESS_ALLOWLIST", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Daemon.GraceShutdownS != 12 {
		t.Fatalf("expected overridden grace shutdown 12, got %d", cfg.Daemon.GraceShutdownS)
	}
	if cfg.Match.AutoThreshold != 0.95 {
		t.Fatalf("expected overridden auto threshold 0.95, got %v", cfg.Match.AutoThreshold)
	}
	if len(cfg.Egress.Allowlist) != 2 {
		t.Fatalf("expected 2 allowlist entries, got %v", cfg.Egress.Allowlist)
	}
}

func TestNormalizeFallsBackToGraceShutdownDefault(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()
	if cfg.Daemon.GraceShutdownS != 5 {
		t.Fatalf("expected grace shutdown default, got %d", cfg.Daemon.GraceShutdownS)
	}
}
