package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foliodesk/settlement-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Ledger.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Ledger.Currency)
	}

	rate, min, max := cfg.FeeSchedule()
	if rate.String() != "0.001" || min.String() != "10" || max.String() != "1000" {
		t.Errorf("unexpected default fee schedule: %s/%s/%s", rate, min, max)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9090"
fees:
  rate: "0.002"
  min: "5"
  max: "500"
cache:
  quote_ttl_seconds: 60
  store_ttl_seconds: 10
ledger:
  currency: EUR
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Ledger.Currency != "EUR" {
		t.Errorf("expected currency EUR, got %s", cfg.Ledger.Currency)
	}
	if cfg.Cache.QuoteTTL() != time.Minute {
		t.Errorf("expected quote TTL 1m, got %s", cfg.Cache.QuoteTTL())
	}

	rate, _, _ := cfg.FeeSchedule()
	if rate.String() != "0.002" {
		t.Errorf("expected rate 0.002, got %s", rate)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "7777" {
		t.Errorf("env PORT override ignored, got %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env" {
		t.Errorf("env DATABASE_URL override ignored, got %s", cfg.Database.URL)
	}
}

func TestLoad_RejectsBadFeeSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
fees:
  rate: "0.001"
  min: "100"
  max: "10"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.Load(path); err == nil {
		t.Error("expected error for ceiling below floor")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
