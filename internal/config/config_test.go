package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lifewatch")
	t.Setenv("LIFEWATCH_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.Thresholds.WarningMinutes != 1440 || cfg.Thresholds.EmergencyMinutes != 4320 {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Cooldowns.Emergency.Std() != 30*time.Minute {
		t.Fatalf("emergency cooldown = %v", cfg.Cooldowns.Emergency)
	}
	if cfg.Confirmation.Window.Std() != 30*time.Minute || cfg.Confirmation.EarlyExit.Std() != 15*time.Minute {
		t.Fatalf("confirmation = %+v", cfg.Confirmation)
	}
	if cfg.Escalation.MaxLevel != 3 {
		t.Fatalf("escalation = %+v", cfg.Escalation)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LIFEWATCH_CONFIG", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without database url")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
http_addr: ":9090"
database_url: "postgres://db/lifewatch"
jwt_secret: "file-secret"
thresholds:
  warning_minutes: 720
  danger_minutes: 1440
  emergency_minutes: 2880
multipliers:
  weekend: 2.0
  night: 0.5
  holiday: 3.0
escalation:
  delay: 30m
  max_level: 2
holidays:
  - "12-25"
  - "01-01"
services:
  - name: medical
    url: "https://medical.example/report"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LIFEWATCH_CONFIG", path)
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.DatabaseURL != "postgres://db/lifewatch" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Thresholds.WarningMinutes != 720 {
		t.Fatalf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Escalation.Delay.Std() != 30*time.Minute || cfg.Escalation.MaxLevel != 2 {
		t.Fatalf("escalation = %+v", cfg.Escalation)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Name != "medical" {
		t.Fatalf("services = %+v", cfg.Services)
	}
	if !cfg.HolidaySet().Contains(time.Date(2026, 12, 25, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("holiday list not applied")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lifewatch")
	t.Setenv("LIFEWATCH_CONFIG", "")
	t.Setenv("LIFEWATCH_HTTP_ADDR", ":7070")
	t.Setenv("LIFEWATCH_SWEEP_INTERVAL", "90s")
	t.Setenv("LIFEWATCH_RETRY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.SweepInterval.Std() != 90*time.Second {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("retry attempts = %d", cfg.Retry.MaxAttempts)
	}
}

func TestValidateRejectsBadConfirmationWindow(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lifewatch")
	t.Setenv("LIFEWATCH_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Confirmation.EarlyExit = cfg.Confirmation.Window
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when early exit does not precede window end")
	}
}
