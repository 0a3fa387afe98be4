package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Drive a full guest session against a running server: handshake,
// save, refresh, record-id request.
//
// Usage:
//   1. Start the server in dev mode: BOARDSYNC_DEV_MODE=1 go run ./cmd/boardsyncd
//   2. Set BACKEND_URL if not http://localhost:8080
//   3. Run: go run test/manual/guest_session.go

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		backendURL = "http://localhost:8080"
	}
	wsURL := "ws" + strings.TrimPrefix(backendURL, "http") + "/v1/board/connect"

	header := http.Header{}
	header.Set("X-Debug-Sub", "manual-test-user")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		fmt.Printf("Error connecting to %s: %v\n", wsURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s\n\n", wsURL)

	send(conn, "APP_READY", nil)
	info := expect(conn, "KNACK_USER_INFO")

	var userInfo struct {
		RecordID string         `json:"recordId"`
		Board    map[string]any `json:"board"`
	}
	if err := json.Unmarshal(info.Data, &userInfo); err != nil {
		fmt.Printf("Error decoding user info: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Handshake complete, record %s\n", userInfo.RecordID)

	send(conn, "SAVE_DATA", map[string]any{
		"recordId": userInfo.RecordID,
		"payload": map[string]any{
			"columns": []any{
				map[string]any{"id": "col-1", "title": "Manual test", "cards": []any{}},
			},
		},
	})
	expect(conn, "SAVE_RESULT")
	fmt.Println("Save acknowledged")

	send(conn, "REQUEST_UPDATED_DATA", nil)
	expect(conn, "KNACK_DATA")
	fmt.Println("Refresh returned board data")

	send(conn, "REQUEST_RECORD_ID", nil)
	expect(conn, "RECORD_ID_RESPONSE")
	fmt.Println("Record id resolved")

	fmt.Println("\nAll steps passed")
}

func send(conn *websocket.Conn, msgType string, payload any) {
	msg := message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf("Error marshaling %s payload: %v\n", msgType, err)
			os.Exit(1)
		}
		msg.Data = data
	}
	if err := conn.WriteJSON(msg); err != nil {
		fmt.Printf("Error sending %s: %v\n", msgType, err)
		os.Exit(1)
	}
}

func expect(conn *websocket.Conn, msgType string) message {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		fmt.Printf("Error waiting for %s: %v\n", msgType, err)
		os.Exit(1)
	}
	if msg.Type != msgType {
		fmt.Printf("Expected %s, got %s (data: %s)\n", msgType, msg.Type, string(msg.Data))
		os.Exit(1)
	}
	fmt.Printf("  <- %s\n", msg.Type)
	return msg
}
