package config

import "testing"

func TestLoadConfig_EnvironmentBinding(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/animaze")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BKASH_MERCHANT_ID", "app-key-1")
	t.Setenv("BKASH_SECRET", "bkash-secret")
	t.Setenv("BKASH_WEBHOOK_SECRET", "hook-secret")
	t.Setenv("NAGAD_BASE_URL", " https://sandbox.mynagad.com ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/animaze" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.Bkash.MerchantID != "app-key-1" || cfg.Bkash.Secret != "bkash-secret" {
		t.Errorf("Bkash credentials = %+v", cfg.Bkash)
	}
	if cfg.Bkash.WebhookSecret != "hook-secret" {
		t.Errorf("Bkash.WebhookSecret = %q", cfg.Bkash.WebhookSecret)
	}
	if cfg.Nagad.BaseURL != "https://sandbox.mynagad.com" {
		t.Errorf("Nagad.BaseURL = %q, want trimmed value", cfg.Nagad.BaseURL)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RedisLockPrefix != "animaze:user_lock" {
		t.Errorf("RedisLockPrefix = %q, want default", cfg.RedisLockPrefix)
	}
}
