// Package config loads service configuration from KEYSTONE_* environment
// variables. Secrets come from the environment or Vault, never from files
// checked into the repo.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"keystone/internal/domain"
	"keystone/internal/infra/keyring"
)

type Config struct {
	Env        string
	ListenAddr string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminAPIKey string

	// HMACKeys is a JSON keyring document; HMACKey is the single-secret
	// shorthand. HMACKeys wins when both are set.
	HMACKeys string
	HMACKey  string

	VaultAddr        string
	VaultToken       string
	VaultKeyringPath string

	LeaseTTL           time.Duration
	OfflineLeaseTTL    time.Duration
	ValidationCacheTTL time.Duration

	RateLimitRequests   int
	RateLimitWindow     time.Duration
	RateLimitFailClosed bool

	PolicyBundlePath string
	PolicyBundleID   string
}

func FromEnv() (Config, error) {
	cfg := Config{
		Env:        envDefault("KEYSTONE_ENV", "development"),
		ListenAddr: envDefault("KEYSTONE_LISTEN_ADDR", ":8080"),

		DatabaseDSN: os.Getenv("KEYSTONE_DATABASE_DSN"),

		RedisAddr:     os.Getenv("KEYSTONE_REDIS_ADDR"),
		RedisPassword: os.Getenv("KEYSTONE_REDIS_PASSWORD"),

		AdminAPIKey: os.Getenv("KEYSTONE_ADMIN_API_KEY"),

		HMACKeys: os.Getenv("KEYSTONE_HMAC_KEYS"),
		HMACKey:  os.Getenv("KEYSTONE_HMAC_KEY"),

		VaultAddr:        os.Getenv("KEYSTONE_VAULT_ADDR"),
		VaultToken:       os.Getenv("KEYSTONE_VAULT_TOKEN"),
		VaultKeyringPath: envDefault("KEYSTONE_VAULT_KEYRING_PATH", "secret/data/keystone/keyring"),

		PolicyBundlePath: os.Getenv("KEYSTONE_POLICY_BUNDLE_PATH"),
		PolicyBundleID:   envDefault("KEYSTONE_POLICY_BUNDLE_ID", "entitlement_v0"),

		RateLimitFailClosed: envBool("KEYSTONE_RATE_LIMIT_FAIL_CLOSED", false),
	}

	var err error
	if cfg.RedisDB, err = envInt("KEYSTONE_REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	leaseSeconds, err := envInt("KEYSTONE_LEASE_TTL_SECONDS", 86400)
	if err != nil {
		return Config{}, err
	}
	cfg.LeaseTTL = time.Duration(leaseSeconds) * time.Second

	offlineSeconds, err := envInt("KEYSTONE_OFFLINE_LEASE_TTL_SECONDS", 259200)
	if err != nil {
		return Config{}, err
	}
	cfg.OfflineLeaseTTL = time.Duration(offlineSeconds) * time.Second

	cacheSeconds, err := envInt("KEYSTONE_VALIDATION_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.ValidationCacheTTL = time.Duration(cacheSeconds) * time.Second

	if cfg.RateLimitRequests, err = envInt("KEYSTONE_RATE_LIMIT_REQUESTS", 60); err != nil {
		return Config{}, err
	}
	windowSeconds, err := envInt("KEYSTONE_RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitWindow = time.Duration(windowSeconds) * time.Second

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return c.Env == "production"
}

// VaultConfigured reports whether the keyring should load from Vault
// instead of the environment.
func (c Config) VaultConfigured() bool {
	return c.VaultAddr != "" && c.VaultToken != ""
}

// Keyring builds the HMAC keyring from the environment document. Callers
// using Vault load the ring through keyring.VaultClient instead.
func (c Config) Keyring() (*domain.Keyring, error) {
	if c.HMACKeys != "" {
		return keyring.Parse(c.HMACKeys)
	}
	if c.HMACKey != "" {
		return domain.SingleKeyring(c.HMACKey)
	}
	return nil, errors.New("config: no HMAC keyring configured (set KEYSTONE_HMAC_KEYS or KEYSTONE_HMAC_KEY)")
}

func (c Config) validate() error {
	if !c.Production() {
		return nil
	}
	if c.AdminAPIKey == "" {
		return errors.New("config: KEYSTONE_ADMIN_API_KEY is required in production")
	}
	if c.HMACKeys == "" && c.HMACKey == "" && !c.VaultConfigured() {
		return errors.New("config: a keyring source is required in production")
	}
	if c.HMACKey == "dev-secret" || c.HMACKey == "changeme" {
		return errors.New("config: refusing to run in production with a placeholder HMAC key")
	}
	return nil
}

func envDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

func envInt(key string, def int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func envBool(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}
