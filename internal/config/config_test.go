package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
service:
  name: limit-monitor
postgres:
  host: localhost
  port: 5432
  database: limits
  user: limits
  password: secret
  sslmode: disable
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Port != 8080 {
		t.Errorf("Service.Port = %d, want 8080", cfg.Service.Port)
	}
	if cfg.RuleProvider.RefreshInterval != 5*time.Minute {
		t.Errorf("RuleProvider.RefreshInterval = %v, want 5m", cfg.RuleProvider.RefreshInterval)
	}
	if cfg.ExchangeRate.RefreshInterval != 5*time.Minute {
		t.Errorf("ExchangeRate.RefreshInterval = %v, want 5m", cfg.ExchangeRate.RefreshInterval)
	}
	if cfg.Exposure.DefaultLimitUSD != "500000000.00" {
		t.Errorf("Exposure.DefaultLimitUSD = %q, want 500000000.00", cfg.Exposure.DefaultLimitUSD)
	}
	if cfg.Notify.MaxElapsed != 30*time.Second {
		t.Errorf("Notify.MaxElapsed = %v, want 30s", cfg.Notify.MaxElapsed)
	}
}

func TestLoadRespectsExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
service:
  name: limit-monitor
  port: 9090
exposure:
  default_limit_usd: "1000.00"
exchange_rate:
  fail_on_missing_rate: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Port != 9090 {
		t.Errorf("Service.Port = %d, want 9090 (explicit value should not be overwritten)", cfg.Service.Port)
	}
	if cfg.Exposure.DefaultLimitUSD != "1000.00" {
		t.Errorf("Exposure.DefaultLimitUSD = %q, want 1000.00", cfg.Exposure.DefaultLimitUSD)
	}
	if !cfg.ExchangeRate.FailOnMissingRate {
		t.Error("expected FailOnMissingRate to be true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestPostgresConfigDSN(t *testing.T) {
	pc := PostgresConfig{Host: "db", Port: 5432, Database: "limits", User: "u", Password: "p", SSLMode: "disable"}
	dsn := pc.DSN()
	if dsn == "" {
		t.Fatal("expected a non-empty DSN")
	}
}
