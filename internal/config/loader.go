package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load loads configuration from a file path and applies environment
// variable overrides. Validation is deferred so the caller can apply
// CLI flag overrides first.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

// LoadFromEnvironment creates a configuration using only environment
// variables. Useful for containerized deployments where files may not
// be available.
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("BOARDSYNC_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if appID := os.Getenv("BOARDSYNC_APP_ID"); appID != "" {
		cfg.AppID = appID
	}

	if backend := os.Getenv("BOARDSYNC_BACKEND"); backend != "" {
		cfg.Backend = backend
	}

	if baseURL := os.Getenv("BOARDSYNC_STORE_BASE_URL"); baseURL != "" {
		cfg.Store.BaseURL = baseURL
	}

	if apiKey := os.Getenv("BOARDSYNC_STORE_API_KEY"); apiKey != "" {
		cfg.Store.APIKey = apiKey
	}

	if objectKey := os.Getenv("BOARDSYNC_STORE_OBJECT_KEY"); objectKey != "" {
		cfg.Store.ObjectKey = objectKey
	}

	if userField := os.Getenv("BOARDSYNC_STORE_USER_FIELD"); userField != "" {
		cfg.Store.UserField = userField
	}

	if serviceToken := os.Getenv("BOARDSYNC_STORE_SERVICE_TOKEN"); serviceToken != "" {
		cfg.Store.ServiceToken = serviceToken
	}

	if pgURL := os.Getenv("BOARDSYNC_POSTGRES_URL"); pgURL != "" {
		cfg.Postgres.URL = pgURL
	}

	if secret := os.Getenv("BOARDSYNC_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	if retries := os.Getenv("BOARDSYNC_SAVE_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n > 0 {
			cfg.Save.MaxRetries = n
		}
	}

	if delay := os.Getenv("BOARDSYNC_SAVE_RETRY_DELAY_MS"); delay != "" {
		if n, err := strconv.Atoi(delay); err == nil && n > 0 {
			cfg.Save.RetryDelayMS = n
		}
	}

	if devMode := os.Getenv("BOARDSYNC_DEV_MODE"); devMode == "true" || devMode == "1" {
		cfg.DevMode = true
	}

	if debug := os.Getenv("BOARDSYNC_DEBUG"); debug == "true" || debug == "1" {
		cfg.Debug = true
	}

	if logLevel := os.Getenv("BOARDSYNC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Allowed origins (comma-separated list)
	if allowedOrigins := os.Getenv("BOARDSYNC_ALLOWED_ORIGINS"); allowedOrigins != "" {
		origins := strings.Split(allowedOrigins, ",")
		cfg.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}
}
