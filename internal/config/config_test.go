package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithAPIKey(t *testing.T) {
	t.Setenv("OPTIONFLOW_API_KEY", "test-key-123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected config to load with API key, got error: %v", err)
	}

	if cfg.API.APIKey != "test-key-123" {
		t.Errorf("expected API key 'test-key-123', got '%s'", cfg.API.APIKey)
	}

	if cfg.API.BaseURL != "https://api.polygon.io" {
		t.Errorf("expected default base URL, got '%s'", cfg.API.BaseURL)
	}

	if cfg.Scan.Workers != 4 {
		t.Errorf("expected 4 workers by default, got %d", cfg.Scan.Workers)
	}
	if cfg.Combo.Window() != 2*time.Minute {
		t.Errorf("expected 2m combo window, got %v", cfg.Combo.Window())
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected memory cache backend, got %q", cfg.Cache.Backend)
	}
	if len(cfg.Tickers) != len(DefaultTickers) {
		t.Errorf("expected default tickers, got %v", cfg.Tickers)
	}
}

func TestLoadWithoutAPIKey(t *testing.T) {
	_ = os.Unsetenv("OPTIONFLOW_API_KEY")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("OPTIONFLOW_API_KEY", "k")

	path := filepath.Join(t.TempDir(), "flow.yaml")
	body := `
tickers: [SPY, BRK.B]
scan:
  workers: 8
cache:
  backend: redis
  redis:
    addr: redis:6379
gex:
  risk_free_rate: 0.05
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scan.Workers != 8 || cfg.Scan.ContractBatch != 10 {
		t.Errorf("unexpected scan config %+v", cfg.Scan)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.GEX.RiskFreeRate != 0.05 || cfg.GEX.HorizonDays != 45 {
		t.Errorf("unexpected gex config %+v", cfg.GEX)
	}
	if len(cfg.Tickers) != 2 || cfg.Tickers[1] != "BRK.B" {
		t.Errorf("unexpected tickers %v", cfg.Tickers)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	t.Setenv("OPTIONFLOW_API_KEY", "k")

	path := filepath.Join(t.TempDir(), "flow.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  backend: memcached\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown cache backend")
	}
}

func TestLoadNotifyAndDaemonFromEnv(t *testing.T) {
	t.Setenv("OPTIONFLOW_API_KEY", "k")
	t.Setenv("NTFY_ENABLED", "true")
	t.Setenv("NTFY_TOPIC", "flow-alerts")
	t.Setenv("DAEMON_SCHEDULE_HOUR", "17")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Notify.Enabled || cfg.Notify.Topic != "flow-alerts" {
		t.Errorf("unexpected notify config %+v", cfg.Notify)
	}
	if cfg.Notify.Server != "https://ntfy.sh" || cfg.Notify.Priority != "default" {
		t.Errorf("expected notify defaults, got %+v", cfg.Notify)
	}
	if cfg.Daemon.ScheduleHour != 17 || cfg.Daemon.ScheduleMinute != 30 {
		t.Errorf("unexpected daemon schedule %02d:%02d", cfg.Daemon.ScheduleHour, cfg.Daemon.ScheduleMinute)
	}
	if cfg.Daemon.Timezone != "America/New_York" || !cfg.Daemon.RunOnStartup {
		t.Errorf("unexpected daemon defaults %+v", cfg.Daemon)
	}
}
