// Package config handles loading and validation of daemon configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"golang.org/x/mod/semver"

	"cartsync/internal/debounce"
	"cartsync/internal/remote"
	"cartsync/internal/storage"
	"cartsync/internal/transport"
)

// Config holds all daemon configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	ClientID   string

	// Remote cart service
	APIURL         string
	TLSFingerprint string
	ProductRPS     float64

	// Local storage for carts, guest cart and remembered credentials
	Storage storage.Config

	// Cart behaviour
	Debounce         time.Duration
	ResyncAfterBatch bool

	// MinViewVersion rejects Cart-View clients older than this; empty accepts all.
	MinViewVersion string
}

// Secrets is the part of the configuration kept out of env vars in production.
// Loaded from Secret Manager as JSON.
type Secrets struct {
	APIURL        string `json:"api_url"`
	RedisPassword string `json:"redis_password,omitempty"`
}

// fileConfig matches the CONFIG_FILE JSON structure.
type fileConfig struct {
	Port             string  `json:"port"`
	Environment      string  `json:"environment"`
	LogLevel         string  `json:"log_level"`
	APIURL           string  `json:"api_url"`
	TLSFingerprint   string  `json:"tls_fingerprint"`
	ProductRPS       float64 `json:"product_rps"`
	Debounce         string  `json:"debounce"`
	ResyncAfterBatch bool    `json:"resync_after_batch"`
	MinViewVersion   string  `json:"min_view_version"`
	Storage          struct {
		Driver        string `json:"driver"`
		Path          string `json:"path"`
		RedisAddr     string `json:"redis_addr"`
		RedisPassword string `json:"redis_password"`
		RedisDB       int    `json:"redis_db"`
		KeyPrefix     string `json:"key_prefix"`
	} `json:"storage"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) then ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are invalid.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:           envOrDefault("PORT", "8080"),
		Environment:    envOrDefault("ENVIRONMENT", "development"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		GCPProject:     os.Getenv("GCP_PROJECT"),
		ClientID:       os.Getenv("CLIENT_ID"),
		TLSFingerprint: envOrDefault("CART_TLS_FINGERPRINT", transport.FingerprintNone),
		MinViewVersion: os.Getenv("CART_MIN_VIEW_VERSION"),
		Storage: storage.Config{
			Driver:    envOrDefault("CART_STORAGE_DRIVER", storage.DriverSQLite),
			Path:      envOrDefault("CART_STORAGE_PATH", "cartsync.db"),
			RedisAddr: os.Getenv("CART_REDIS_ADDR"),
			KeyPrefix: os.Getenv("CART_REDIS_PREFIX"),
		},
	}

	var err error
	if cfg.Debounce, err = envDuration("CART_DEBOUNCE", debounce.DefaultWindow); err != nil {
		return nil, err
	}
	if cfg.ProductRPS, err = envFloat("CART_PRODUCT_RPS", remote.DefaultProductRPS); err != nil {
		return nil, err
	}
	if cfg.ResyncAfterBatch, err = envBool("CART_RESYNC_AFTER_BATCH", false); err != nil {
		return nil, err
	}
	if cfg.Storage.RedisDB, err = envInt("CART_REDIS_DB", 0); err != nil {
		return nil, err
	}

	// Load secrets based on environment
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("CLIENT_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:             withDefault(fc.Port, "8080"),
		Environment:      withDefault(fc.Environment, "development"),
		LogLevel:         withDefault(fc.LogLevel, "info"),
		APIURL:           fc.APIURL,
		TLSFingerprint:   withDefault(fc.TLSFingerprint, transport.FingerprintNone),
		ProductRPS:       fc.ProductRPS,
		Debounce:         debounce.DefaultWindow,
		ResyncAfterBatch: fc.ResyncAfterBatch,
		MinViewVersion:   fc.MinViewVersion,
		Storage: storage.Config{
			Driver:        withDefault(fc.Storage.Driver, storage.DriverSQLite),
			Path:          withDefault(fc.Storage.Path, "cartsync.db"),
			RedisAddr:     fc.Storage.RedisAddr,
			RedisPassword: fc.Storage.RedisPassword,
			RedisDB:       fc.Storage.RedisDB,
			KeyPrefix:     fc.Storage.KeyPrefix,
		},
	}
	if cfg.ProductRPS == 0 {
		cfg.ProductRPS = remote.DefaultProductRPS
	}
	if fc.Debounce != "" {
		d, err := time.ParseDuration(fc.Debounce)
		if err != nil {
			return nil, fmt.Errorf("invalid debounce %q: %w", fc.Debounce, err)
		}
		cfg.Debounce = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the secrets JSON from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{client_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.ClientID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecrets(result.Payload.Data)
}

// applySecrets merges a secrets JSON document into c.
func (c *Config) applySecrets(data []byte) error {
	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	c.APIURL = s.APIURL
	if s.RedisPassword != "" {
		c.Storage.RedisPassword = s.RedisPassword
	}
	return nil
}

// loadFromEnv reads secrets from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	c.APIURL = os.Getenv("CART_API_URL")
	c.Storage.RedisPassword = os.Getenv("CART_REDIS_PASSWORD")
	return nil
}

// validate checks that all required configuration fields are present and well-formed.
func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api_url: scheme must be http or https")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case storage.DriverMemory:
	case storage.DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for sqlite")
		}
	case storage.DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	switch strings.ToLower(c.TLSFingerprint) {
	case transport.FingerprintNone, transport.FingerprintChrome, transport.FingerprintFirefox:
	default:
		return fmt.Errorf("unsupported tls fingerprint: %s", c.TLSFingerprint)
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	if c.ProductRPS <= 0 {
		return fmt.Errorf("product rps must be positive, got %v", c.ProductRPS)
	}

	if c.MinViewVersion != "" {
		v := c.MinViewVersion
		if v[0] != 'v' {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			return fmt.Errorf("min view version %q is not semver", c.MinViewVersion)
		}
	}

	return nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}
