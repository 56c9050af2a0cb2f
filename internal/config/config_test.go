package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/test")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_test")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.MySQL.DSN == "" {
		t.Error("MySQL DSN should not be empty")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.SSL.Mode != "cloudflare" {
		t.Errorf("Expected default SSL mode cloudflare, got %s", cfg.SSL.Mode)
	}
	if cfg.Registrar.Years != 1 {
		t.Errorf("Expected default registration years 1, got %d", cfg.Registrar.Years)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("MYSQL_DSN")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("PAYMENT_WEBHOOK_SECRET")

	if _, err := Load(); err == nil {
		t.Error("Expected error when MYSQL_DSN is missing")
	}

	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/test")
	if _, err := Load(); err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}

	t.Setenv("JWT_SECRET", "s")
	if _, err := Load(); err == nil {
		t.Error("Expected error when PAYMENT_WEBHOOK_SECRET is missing")
	}
}

func TestLoad_InvalidSSLMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SSL_MODE", "bogus")

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid SSL_MODE")
	}
}

func TestLoad_PlatformHosts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLATFORM_HOSTS", "App.Example.com, api.example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.PlatformHosts) != 2 {
		t.Fatalf("Expected 2 platform hosts, got %v", cfg.PlatformHosts)
	}
	if cfg.PlatformHosts[0] != "app.example.com" {
		t.Errorf("Expected lower-cased host, got %s", cfg.PlatformHosts[0])
	}
}
