package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultAppName           = "PayoVault"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultAccessTokenTTL    = 15 * time.Minute
	defaultReceiptTimeout    = 2 * time.Minute
	defaultEventPollInterval = time.Second
	defaultEventStream       = "payo:vault:events"
	devJWTSecret             = "dev-only-secret"

	TokenBackendMemory = "memory"
	TokenBackendERC20  = "erc20"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret      string
	AccessTokenTTL time.Duration
	// APIKeys maps a caller address to the bcrypt hash of its API key.
	APIKeys map[common.Address]string

	// VaultOwner and VaultRelayer, when both set, initialize an empty vault
	// at startup.
	VaultOwner   string
	VaultRelayer string

	TokenBackend      string
	TokenAddress      string
	EthRPCURL         string
	CustodyPrivateKey string
	ReceiptTimeout    time.Duration

	EventStream       string
	EventPollInterval time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		VaultOwner:        os.Getenv("VAULT_OWNER"),
		VaultRelayer:      os.Getenv("VAULT_RELAYER"),
		TokenBackend:      strings.ToLower(getEnv("TOKEN_BACKEND", TokenBackendMemory)),
		TokenAddress:      os.Getenv("TOKEN_ADDRESS"),
		EthRPCURL:         os.Getenv("ETH_RPC_URL"),
		CustodyPrivateKey: os.Getenv("CUSTODY_PRIVATE_KEY"),
		EventStream:       getEnv("EVENT_STREAM", defaultEventStream),
	}

	var err error
	if cfg.ShutdownPeriod, err = duration("SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL_SECONDS", "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = duration("", "ACCESS_TOKEN_TTL", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReceiptTimeout, err = duration("", "RECEIPT_TIMEOUT", defaultReceiptTimeout); err != nil {
		return Config{}, err
	}
	if cfg.EventPollInterval, err = duration("", "EVENT_POLL_INTERVAL", defaultEventPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.APIKeys, err = parseAPIKeys(os.Getenv("API_KEYS")); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.IsDev() {
			return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
		c.JWTSecret = devJWTSecret
	}

	if !c.IsDev() {
		if c.DatabaseURL == "" && c.SQLitePath == "" {
			return fmt.Errorf("DATABASE_URL or SQLITE_PATH must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}

	switch c.TokenBackend {
	case TokenBackendMemory:
		if !c.IsDev() {
			return fmt.Errorf("TOKEN_BACKEND=%s is only allowed in development", c.TokenBackend)
		}
	case TokenBackendERC20:
		if c.EthRPCURL == "" || c.CustodyPrivateKey == "" {
			return fmt.Errorf("ETH_RPC_URL and CUSTODY_PRIVATE_KEY must be set for TOKEN_BACKEND=%s", c.TokenBackend)
		}
		if !common.IsHexAddress(c.TokenAddress) {
			return fmt.Errorf("TOKEN_ADDRESS must be a hex address for TOKEN_BACKEND=%s", c.TokenBackend)
		}
	default:
		return fmt.Errorf("unknown TOKEN_BACKEND %q", c.TokenBackend)
	}

	if (c.VaultOwner == "") != (c.VaultRelayer == "") {
		return fmt.Errorf("VAULT_OWNER and VAULT_RELAYER must be set together")
	}
	for name, v := range map[string]string{"VAULT_OWNER": c.VaultOwner, "VAULT_RELAYER": c.VaultRelayer} {
		if v != "" && !common.IsHexAddress(v) {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}
	return nil
}

// IsDev reports whether the process runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// duration reads an integer number of seconds from secondsKey, or else a Go
// duration string from durationKey.
func duration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

// parseAPIKeys reads "0xaddr:bcrypt-hash,0xaddr:bcrypt-hash".
func parseAPIKeys(raw string) (map[common.Address]string, error) {
	keys := make(map[common.Address]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, hash, ok := strings.Cut(entry, ":")
		if !ok || !common.IsHexAddress(addr) || hash == "" {
			return nil, fmt.Errorf("invalid API_KEYS entry %q", entry)
		}
		keys[common.HexToAddress(addr)] = hash
	}
	return keys, nil
}
