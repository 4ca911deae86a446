package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for non-integer value, got %d", v)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	if v := envFloat("TEST_FLOAT", 0); v != 2.5 {
		t.Fatalf("expected 2.5, got %f", v)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.QueueCapacity != 10000 {
		t.Fatalf("expected default queue capacity 10000, got %d", cfg.QueueCapacity)
	}
	if cfg.FreezeThreshold != 5*time.Second {
		t.Fatalf("expected default freeze threshold 5s, got %s", cfg.FreezeThreshold)
	}
}

func TestLoadFailsOnBadDataSource(t *testing.T) {
	t.Setenv("BLASTWATCH_DATA_SOURCE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with unknown data source")
	}
}

func TestValidateRejectsCheckPeriodAboveThreshold(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.FreezeCheckPeriod = cfg.FreezeThreshold + time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for check period longer than threshold")
	}
}

func TestValidateRejectsZeroBackups(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.WriterMaxBackups = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero backup count")
	}
}
