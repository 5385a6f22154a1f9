package config

import (
	"strings"
	"testing"
	"time"
)

// setValidEnv устанавливает минимальный валидный набор переменных
func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("k", 32))
	t.Setenv("API_TOKEN", "dashboard-token-123")
}

func TestLoad_Defaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Strategy.Leverage != 2.0 {
		t.Errorf("Leverage = %v, want 2.0", cfg.Strategy.Leverage)
	}
	if cfg.Strategy.BalanceUsage != 0.9 {
		t.Errorf("BalanceUsage = %v, want 0.9", cfg.Strategy.BalanceUsage)
	}
	if cfg.Strategy.CycleInterval != 5*time.Minute {
		t.Errorf("CycleInterval = %v, want 5m", cfg.Strategy.CycleInterval)
	}
	if len(cfg.Strategy.Venues) != 2 {
		t.Errorf("Venues = %v, want two defaults", cfg.Strategy.Venues)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("TARGET_APY", "0.25")
	t.Setenv("SYMBOLS", "BTC, ETH ,SOL")
	t.Setenv("CYCLE_INTERVAL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Strategy.TargetAPY != 0.25 {
		t.Errorf("TargetAPY = %v, want 0.25", cfg.Strategy.TargetAPY)
	}
	wantSymbols := []string{"BTC", "ETH", "SOL"}
	if len(cfg.Strategy.Symbols) != len(wantSymbols) {
		t.Fatalf("Symbols = %v, want %v", cfg.Strategy.Symbols, wantSymbols)
	}
	for i, s := range wantSymbols {
		if cfg.Strategy.Symbols[i] != s {
			t.Errorf("Symbols[%d] = %q, want %q", i, cfg.Strategy.Symbols[i], s)
		}
	}
	if cfg.Strategy.CycleInterval != time.Minute {
		t.Errorf("CycleInterval = %v, want 1m", cfg.Strategy.CycleInterval)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "нет ключа шифрования",
			env:  map[string]string{"API_TOKEN": "dashboard-token-123"},
		},
		{
			name: "короткий ключ шифрования",
			env: map[string]string{
				"ENCRYPTION_KEY": "short",
				"API_TOKEN":      "dashboard-token-123",
			},
		},
		{
			name: "нет токена API",
			env:  map[string]string{"ENCRYPTION_KEY": strings.Repeat("k", 32)},
		},
		{
			name: "недопустимое плечо",
			env: map[string]string{
				"ENCRYPTION_KEY": strings.Repeat("k", 32),
				"API_TOKEN":      "dashboard-token-123",
				"LEVERAGE":       "50",
			},
		},
		{
			name: "одна биржа",
			env: map[string]string{
				"ENCRYPTION_KEY": strings.Repeat("k", 32),
				"API_TOKEN":      "dashboard-token-123",
				"VENUES":         "bybit",
			},
		},
		{
			name: "нулевая доля баланса",
			env: map[string]string{
				"ENCRYPTION_KEY": strings.Repeat("k", 32),
				"API_TOKEN":      "dashboard-token-123",
				"BALANCE_USAGE":  "0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() = nil, want validation error")
			}
		})
	}
}

func TestLoad_VenueCredentials(t *testing.T) {
	setValidEnv(t)
	t.Setenv("BYBIT_API_KEY", "bk")
	t.Setenv("BYBIT_API_SECRET", "bs")
	t.Setenv("OKX_API_KEY", "ok")
	t.Setenv("OKX_API_SECRET", "os")
	t.Setenv("OKX_PASSPHRASE", "op")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	bybit := cfg.Venues.Credentials["bybit"]
	if bybit.APIKey != "bk" || bybit.Secret != "bs" {
		t.Errorf("bybit credentials = %+v", bybit)
	}
	okx := cfg.Venues.Credentials["okx"]
	if okx.APIKey != "ok" || okx.Passphrase != "op" {
		t.Errorf("okx credentials = %+v", okx)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Name: "fundarb", SSLMode: "disable",
	}

	dsn := d.DSN()
	if !strings.Contains(dsn, "password=p") {
		t.Errorf("DSN() = %q, missing password", dsn)
	}

	safe := d.DSNWithoutPassword()
	if strings.Contains(safe, "p") && strings.Contains(safe, "password=") {
		t.Errorf("DSNWithoutPassword() = %q, contains password", safe)
	}
}
