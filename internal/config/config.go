// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubAppID         int64
	GitHubPrivateKey    []byte // PEM
	GitHubWebhookSecret string
	GitHubAPIURL        string

	SecretKey        []byte // decoded 32-byte master key, nil when unset
	SecretPassphrase string
	DataDir          string

	ListenAddr          string
	TokenTimeout        time.Duration
	PendingInputTTL     time.Duration
	TenantRatePerMinute float64
	TenantRateBurst     int
}

// Load reads configuration from environment variables and returns a validated Config.
// Required: REPOBRIDGE_GITHUB_APP_ID, REPOBRIDGE_GITHUB_WEBHOOK_SECRET and one of
// REPOBRIDGE_GITHUB_PRIVATE_KEY or REPOBRIDGE_GITHUB_PRIVATE_KEY_PATH.
// Optional variables with defaults: REPOBRIDGE_GITHUB_API_URL (https://api.github.com/),
// REPOBRIDGE_DATA_DIR (data), REPOBRIDGE_LISTEN_ADDR (127.0.0.1:8080),
// REPOBRIDGE_TOKEN_TIMEOUT (10s), REPOBRIDGE_PENDING_INPUT_TTL (5m),
// REPOBRIDGE_TENANT_RATE_PER_MINUTE (30), REPOBRIDGE_TENANT_RATE_BURST (10).
// REPOBRIDGE_SECRET_KEY (64 hex characters) and REPOBRIDGE_SECRET_PASSPHRASE
// select the vault master key; without either a key file is generated.
func Load() (*Config, error) {
	cfg := &Config{
		GitHubAPIURL:        "https://api.github.com/",
		DataDir:             "data",
		ListenAddr:          "127.0.0.1:8080",
		TokenTimeout:        10 * time.Second,
		PendingInputTTL:     5 * time.Minute,
		TenantRatePerMinute: 30,
		TenantRateBurst:     10,
	}

	rawAppID := strings.TrimSpace(os.Getenv("REPOBRIDGE_GITHUB_APP_ID"))
	if rawAppID == "" {
		return nil, fmt.Errorf("REPOBRIDGE_GITHUB_APP_ID is required")
	}
	appID, err := strconv.ParseInt(rawAppID, 10, 64)
	if err != nil || appID <= 0 {
		return nil, fmt.Errorf("REPOBRIDGE_GITHUB_APP_ID must be a positive number, got %q", rawAppID)
	}
	cfg.GitHubAppID = appID

	key, err := loadPrivateKey()
	if err != nil {
		return nil, err
	}
	cfg.GitHubPrivateKey = key

	cfg.GitHubWebhookSecret = os.Getenv("REPOBRIDGE_GITHUB_WEBHOOK_SECRET")
	if cfg.GitHubWebhookSecret == "" {
		return nil, fmt.Errorf("REPOBRIDGE_GITHUB_WEBHOOK_SECRET is required")
	}

	if v, ok := os.LookupEnv("REPOBRIDGE_GITHUB_API_URL"); ok && v != "" {
		if !strings.HasSuffix(v, "/") {
			v += "/"
		}
		cfg.GitHubAPIURL = v
	}

	if v, ok := os.LookupEnv("REPOBRIDGE_SECRET_KEY"); ok && v != "" {
		decoded, err := hex.DecodeString(strings.TrimSpace(v))
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("REPOBRIDGE_SECRET_KEY must be 64 hex characters")
		}
		cfg.SecretKey = decoded
	}
	cfg.SecretPassphrase = os.Getenv("REPOBRIDGE_SECRET_PASSPHRASE")

	if v, ok := os.LookupEnv("REPOBRIDGE_DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("REPOBRIDGE_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}

	if cfg.TokenTimeout, err = lookupDuration("REPOBRIDGE_TOKEN_TIMEOUT", cfg.TokenTimeout); err != nil {
		return nil, err
	}
	if cfg.PendingInputTTL, err = lookupDuration("REPOBRIDGE_PENDING_INPUT_TTL", cfg.PendingInputTTL); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("REPOBRIDGE_TENANT_RATE_PER_MINUTE"); ok && v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("REPOBRIDGE_TENANT_RATE_PER_MINUTE must be a positive number, got %q", v)
		}
		cfg.TenantRatePerMinute = parsed
	}
	if v, ok := os.LookupEnv("REPOBRIDGE_TENANT_RATE_BURST"); ok && v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("REPOBRIDGE_TENANT_RATE_BURST must be a positive integer, got %q", v)
		}
		cfg.TenantRateBurst = parsed
	}

	return cfg, nil
}

// loadPrivateKey prefers the inline PEM. Inline keys from .env files often
// carry literal "\n" sequences, which are expanded.
func loadPrivateKey() ([]byte, error) {
	if v := os.Getenv("REPOBRIDGE_GITHUB_PRIVATE_KEY"); v != "" {
		return []byte(strings.ReplaceAll(v, `\n`, "\n")), nil
	}

	path := os.Getenv("REPOBRIDGE_GITHUB_PRIVATE_KEY_PATH")
	if path == "" {
		return nil, fmt.Errorf("REPOBRIDGE_GITHUB_PRIVATE_KEY or REPOBRIDGE_GITHUB_PRIVATE_KEY_PATH is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("REPOBRIDGE_GITHUB_PRIVATE_KEY_PATH: %w", err)
	}
	return data, nil
}

func lookupDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
