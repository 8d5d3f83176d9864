package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaultsRebalanceInterval(t *testing.T) {
	t.Setenv("REBALANCE_INTERVAL", "")

	cfg := Load()
	if cfg.RebalanceInterval != 12*time.Hour {
		t.Fatalf("expected 12h default interval, got %s", cfg.RebalanceInterval)
	}
}

func TestLoadParsesRebalanceInterval(t *testing.T) {
	t.Setenv("REBALANCE_INTERVAL", "90m")

	cfg := Load()
	if cfg.RebalanceInterval != 90*time.Minute {
		t.Fatalf("expected 90m interval, got %s", cfg.RebalanceInterval)
	}
}

func TestLoadParsesRebalanceWindow(t *testing.T) {
	t.Setenv("REBALANCE_WINDOW_DAYS", "14")

	cfg := Load()
	if cfg.RebalanceWindowDays != 14 {
		t.Fatalf("expected 14-day window, got %d", cfg.RebalanceWindowDays)
	}
}

func TestLoadRejectsInvalidRebalanceWindow(t *testing.T) {
	t.Setenv("REBALANCE_WINDOW_DAYS", "0")

	cfg := Load()
	if cfg.RebalanceWindowDays != 7 {
		t.Fatalf("expected 7-day fallback window, got %d", cfg.RebalanceWindowDays)
	}
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	t.Setenv("REBALANCE_LOCK_TTL", "not-a-duration")

	cfg := Load()
	if cfg.RebalanceLockTTL != 10*time.Minute {
		t.Fatalf("expected fallback lock TTL, got %s", cfg.RebalanceLockTTL)
	}
}
