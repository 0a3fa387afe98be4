package record

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func testClient(serverURL string) *KnackClient {
	return NewKnackClient(KnackClientOptions{
		BaseURL:   serverURL,
		AppID:     "app-123",
		APIKey:    "key-456",
		ObjectKey: "object_9",
		UserField: "field_1",
		TokenProvider: func(ctx context.Context) (string, error) {
			return "user-token", nil
		},
	})
}

func TestKnackClient_Get_HeaderInjection(t *testing.T) {
	var captured http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header
		json.NewEncoder(w).Encode(map[string]any{"id": "507f1f77bcf86cd799439011", "field_4": "{}"})
	}))
	defer server.Close()

	rec, err := testClient(server.URL).Get(context.Background(), "507f1f77bcf86cd799439011")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if rec.ID != "507f1f77bcf86cd799439011" {
		t.Errorf("unexpected record id: %s", rec.ID)
	}
	if _, ok := rec.Fields["id"]; ok {
		t.Error("id should be split out of the field map")
	}
	if got := captured.Get("X-Knack-Application-Id"); got != "app-123" {
		t.Errorf("unexpected application header: %s", got)
	}
	if got := captured.Get("X-Knack-REST-API-Key"); got != "key-456" {
		t.Errorf("unexpected api key header: %s", got)
	}
	if got := captured.Get("Authorization"); got != "Bearer user-token" {
		t.Errorf("unexpected authorization header: %s", got)
	}
	if captured.Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestKnackClient_Get_InvalidID(t *testing.T) {
	_, err := testClient("http://unused").Get(context.Background(), "not-an-id")
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestKnackClient_Update(t *testing.T) {
	var method, path string
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"id": "507f1f77bcf86cd799439011", "field_4": body["field_4"]})
	}))
	defer server.Close()

	rec, err := testClient(server.URL).Update(context.Background(), "507f1f77bcf86cd799439011",
		map[string]any{"field_4": `{"columns":[]}`})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
	if path != "/v1/objects/object_9/records/507f1f77bcf86cd799439011" {
		t.Errorf("unexpected path: %s", path)
	}
	if rec.Fields["field_4"] != `{"columns":[]}` {
		t.Errorf("unexpected stored field: %v", rec.Fields["field_4"])
	}
}

func TestKnackClient_FindByUser(t *testing.T) {
	var query url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{
				{"id": "507f1f77bcf86cd799439011", "field_1": "user-7"},
			},
		})
	}))
	defer server.Close()

	rec, err := testClient(server.URL).FindByUser(context.Background(), "user-7")
	if err != nil {
		t.Fatalf("FindByUser failed: %v", err)
	}
	if rec.ID != "507f1f77bcf86cd799439011" {
		t.Errorf("unexpected record id: %s", rec.ID)
	}

	var filters struct {
		Match string `json:"match"`
		Rules []struct {
			Field    string `json:"field"`
			Operator string `json:"operator"`
			Value    string `json:"value"`
		} `json:"rules"`
	}
	if err := json.Unmarshal([]byte(query.Get("filters")), &filters); err != nil {
		t.Fatalf("failed to parse filters param: %v", err)
	}
	if len(filters.Rules) != 1 || filters.Rules[0].Field != "field_1" || filters.Rules[0].Value != "user-7" {
		t.Errorf("unexpected filter rules: %+v", filters)
	}
}

func TestKnackClient_FindByUser_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"records": []map[string]any{}})
	}))
	defer server.Close()

	_, err := testClient(server.URL).FindByUser(context.Background(), "user-7")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKnackClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{"message": "upstream unavailable"})
	}))
	defer server.Close()

	_, err := testClient(server.URL).Get(context.Background(), "507f1f77bcf86cd799439011")
	var reqErr RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Status != http.StatusBadGateway {
		t.Errorf("unexpected status: %d", reqErr.Status)
	}
	if reqErr.Message != "upstream unavailable" {
		t.Errorf("unexpected message: %q", reqErr.Message)
	}
}

func TestKnackClient_NotFoundStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Get(context.Background(), "507f1f77bcf86cd799439011")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
