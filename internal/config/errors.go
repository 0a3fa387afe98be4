package config

import "errors"

var (
	// ErrMissingAppID indicates that the application id is not configured
	ErrMissingAppID = errors.New("appId is required in configuration")

	// ErrMissingAPIKey indicates that the store API key is not configured
	ErrMissingAPIKey = errors.New("store.apiKey is required when not in dev mode")

	// ErrMissingObjectKey indicates that the store object key is not configured
	ErrMissingObjectKey = errors.New("store.objectKey is required for the knack backend")

	// ErrMissingPostgresURL indicates that the postgres URL is not configured
	ErrMissingPostgresURL = errors.New("postgres.url is required for the postgres backend")

	// ErrUnknownBackend indicates an unrecognized backend name
	ErrUnknownBackend = errors.New("backend must be one of: knack, postgres")

	// ErrIncompleteFieldMap indicates that required field ids are missing
	ErrIncompleteFieldMap = errors.New("fields.userId, fields.boardData and fields.lastSaved are required")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
