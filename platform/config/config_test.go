package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestLoadAppliesCadenceDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/crm")
	t.Setenv("CADENCE_STAGE_CACHE_TTL", "2m")
	t.Setenv("CADENCE_STAGE_LOCK_WAIT", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetStageCacheTTL() != 2*time.Minute {
		t.Fatalf("expected cache ttl 2m, got %s", cfg.GetStageCacheTTL())
	}
	if cfg.GetStageLockWait() != 750*time.Millisecond {
		t.Fatalf("expected lock wait 750ms, got %s", cfg.GetStageLockWait())
	}
	if cfg.GetStageLockTTL() <= 0 {
		t.Fatalf("expected positive default lock ttl, got %s", cfg.GetStageLockTTL())
	}
}

func TestLoadRejectsNonPositiveLockTTL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/crm")
	t.Setenv("CADENCE_STAGE_LOCK_TTL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid lock ttl")
	}
}
