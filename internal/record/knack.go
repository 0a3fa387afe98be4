package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// KnackClientOptions configures a KnackClient
type KnackClientOptions struct {
	BaseURL       string
	AppID         string
	APIKey        string
	ObjectKey     string // e.g. "object_12", the collection holding board records
	UserField     string // field id used for user-identifier filtering
	TokenProvider TokenProvider
	HTTPClient    *http.Client
}

// KnackClient talks to the hosted record store. Every request carries
// the application/key header pair plus a bearer token sourced fresh
// from the identity provider; nothing is cached between calls.
type KnackClient struct {
	baseURL       string
	appID         string
	apiKey        string
	objectKey     string
	userField     string
	tokenProvider TokenProvider
	httpClient    *http.Client
}

// NewKnackClient creates a record store client for one application
func NewKnackClient(opts KnackClientOptions) *KnackClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.knack.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &KnackClient{
		baseURL:       baseURL,
		appID:         opts.AppID,
		apiKey:        opts.APIKey,
		objectKey:     opts.ObjectKey,
		userField:     opts.UserField,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
	}
}

// Get fetches a record by identifier
func (c *KnackClient) Get(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	body, err := c.do(ctx, http.MethodGet, c.recordPath(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

// Update writes fields to an existing record
func (c *KnackClient) Update(ctx context.Context, id string, fields map[string]any) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	body, err := c.do(ctx, http.MethodPut, c.recordPath(id), fields)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

// Create inserts a new record into the collection
func (c *KnackClient) Create(ctx context.Context, fields map[string]any) (*Record, error) {
	body, err := c.do(ctx, http.MethodPost, c.collectionPath(), fields)
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

// FindByUser queries the collection with a single equality rule on the
// user-identifier field and returns the first match
func (c *KnackClient) FindByUser(ctx context.Context, userID string) (*Record, error) {
	filters := map[string]any{
		"match": "and",
		"rules": []map[string]any{
			{"field": c.userField, "operator": "is", "value": userID},
		},
	}
	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}

	path := c.collectionPath() + "?filters=" + url.QueryEscape(string(filterJSON))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var listResp struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("failed to decode record list: %w", err)
	}
	if len(listResp.Records) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(listResp.Records[0])
}

func (c *KnackClient) collectionPath() string {
	return fmt.Sprintf("/v1/objects/%s/records", c.objectKey)
}

func (c *KnackClient) recordPath(id string) string {
	return fmt.Sprintf("/v1/objects/%s/records/%s", c.objectKey, id)
}

// do executes a single authenticated request. Retry policy lives with
// the callers (save queue and lookups wrap calls in the retry
// executor), not here.
func (c *KnackClient) do(ctx context.Context, method, path string, payload map[string]any) ([]byte, error) {
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get store token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record fields: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.New().String()
	req.Header.Set("X-Knack-Application-Id", c.appID)
	req.Header.Set("X-Knack-REST-API-Key", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-ID", correlationID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := log.With().
		Str("method", method).
		Str("path", path).
		Str("correlationId", correlationID).
		Logger()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("store request failed")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("store request completed")

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, RequestError{Status: resp.StatusCode, Message: errMessage(respBody)}
	}
	return respBody, nil
}

// errMessage extracts a human-readable message from a store error body
func errMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if len(parsed.Errors) > 0 {
			return parsed.Errors[0].Message
		}
	}
	return strings.TrimSpace(string(body))
}

// decodeRecord parses a record body into its identifier and field map
func decodeRecord(body []byte) (*Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	id, _ := fields["id"].(string)
	delete(fields, "id")
	return &Record{ID: id, Fields: fields}, nil
}
