package config

import (
	"time"

	"github.com/relaypoint/boardsync/internal/record"
)

// Backend selects the record store implementation
const (
	BackendKnack    = "knack"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the board sync server
type Config struct {
	ListenAddr     string          `json:"listenAddr"`
	AppID          string          `json:"appId"`
	Backend        string          `json:"backend"` // knack | postgres
	Store          StoreConfig     `json:"store"`
	Postgres       PostgresConfig  `json:"postgres"`
	Fields         record.FieldMap `json:"fields"`
	Save           SaveConfig      `json:"save"`
	AllowedOrigins []string        `json:"allowedOrigins"`
	JWTSecret      string          `json:"jwtSecret"`
	Debug          bool            `json:"debug"`
	DevMode        bool            `json:"devMode"` // skips credential validation, accepts unverified tokens
	LogLevel       string          `json:"logLevel"`
}

// StoreConfig describes the hosted record store API
type StoreConfig struct {
	BaseURL   string `json:"baseUrl"`
	APIKey    string `json:"apiKey"`
	ObjectKey string `json:"objectKey"`
	UserField string `json:"userField"`

	// ServiceToken is the bearer token sent on server-originated store
	// requests. Optional; the app id and API key headers authenticate
	// the application itself.
	ServiceToken string `json:"serviceToken"`
}

// PostgresConfig describes the self-hosted record store backend
type PostgresConfig struct {
	URL string `json:"url"`
}

// SaveConfig tunes the save queue
type SaveConfig struct {
	MaxRetries   int `json:"maxRetries"`
	RetryDelayMS int `json:"retryDelayMs"`
}

// RetryDelay returns the configured base backoff as a duration
func (s SaveConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.AppID == "" {
		return ErrMissingAppID
	}

	if c.Fields.UserID == "" || c.Fields.BoardData == "" || c.Fields.LastSaved == "" {
		return ErrIncompleteFieldMap
	}

	switch c.Backend {
	case BackendKnack:
		if c.Store.ObjectKey == "" {
			return ErrMissingObjectKey
		}
		if !c.DevMode && c.Store.APIKey == "" {
			return ErrMissingAPIKey
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return ErrMissingPostgresURL
		}
	default:
		return ErrUnknownBackend
	}

	return nil
}

// UserField returns the store filter field for identity lookups,
// falling back to the configured user field id
func (c *Config) UserField() string {
	if c.Store.UserField != "" {
		return c.Store.UserField
	}
	return c.Fields.UserID
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Backend:    BackendKnack,
		Store: StoreConfig{
			BaseURL: "https://api.knack.com",
		},
		Save: SaveConfig{
			MaxRetries:   3,
			RetryDelayMS: 1000,
		},
		AllowedOrigins: []string{},
		Debug:          false,
		DevMode:        false,
		LogLevel:       "info",
	}
}
