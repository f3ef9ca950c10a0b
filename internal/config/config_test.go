package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL",
		"SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", "IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL",
		"JWT_SECRET", "ACCESS_TOKEN_TTL", "API_KEYS", "VAULT_OWNER", "VAULT_RELAYER",
		"TOKEN_BACKEND", "TOKEN_ADDRESS", "ETH_RPC_URL", "CUSTODY_PRIVATE_KEY", "RECEIPT_TIMEOUT",
		"EVENT_STREAM", "EVENT_POLL_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDevelopmentDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "PayoVault" || cfg.Address() != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("development should fall back to a dev secret")
	}
	if cfg.TokenBackend != TokenBackendMemory || cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("unexpected token backend or ttl %+v", cfg)
	}
}

func TestLoadDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("SHUTDOWN_TIMEOUT", "1h")
	t.Setenv("IDEMPOTENCY_TTL", "90s")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("seconds form should win, got %s", cfg.ShutdownPeriod)
	}
	if cfg.IdempotencyTTL != 90*time.Second || cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected durations %+v", cfg)
	}

	t.Setenv("RECEIPT_TIMEOUT", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RECEIPT_TIMEOUT") {
		t.Fatalf("expected RECEIPT_TIMEOUT error, got %v", err)
	}
}

func TestLoadProductionRequirements(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing JWT_SECRET error")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected store error, got %v", err)
	}

	t.Setenv("SQLITE_PATH", "/tmp/vault.db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TOKEN_BACKEND") {
		t.Fatalf("memory token must be rejected outside dev, got %v", err)
	}

	t.Setenv("TOKEN_BACKEND", "erc20")
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
	t.Setenv("CUSTODY_PRIVATE_KEY", "0x01")
	t.Setenv("TOKEN_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadAPIKeysAndBootstrap(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEYS", "0x00000000000000000000000000000000000000e2:$2a$10$abc, 0x00000000000000000000000000000000000000e3:$2a$10$def")
	t.Setenv("VAULT_OWNER", "0x00000000000000000000000000000000000000e1")

	if _, err := Load(); err == nil {
		t.Fatal("owner without relayer must fail")
	}
	t.Setenv("VAULT_RELAYER", "0x00000000000000000000000000000000000000e2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.APIKeys[common.HexToAddress("0x00000000000000000000000000000000000000e3")]; got != "$2a$10$def" {
		t.Fatalf("unexpected key hash %q", got)
	}

	t.Setenv("API_KEYS", "not-an-address:hash")
	if _, err := Load(); err == nil {
		t.Fatal("expected API_KEYS error")
	}
}
