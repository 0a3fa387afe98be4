package bridge

import "encoding/json"

// Type tags a message envelope. The inbound set is closed but
// extensible: unrecognized types are logged and dropped, never errors.
type Type string

// Inbound message types
const (
	TypeAppReady            Type = "APP_READY"
	TypeSaveData            Type = "SAVE_DATA"
	TypeRequestUpdatedData  Type = "REQUEST_UPDATED_DATA"
	TypeRequestTokenRefresh Type = "REQUEST_TOKEN_REFRESH"
	TypeRequestRecordID     Type = "REQUEST_RECORD_ID"
	TypeAuthConfirmed       Type = "AUTH_CONFIRMED"
)

// Outbound message types
const (
	TypeUserInfo          Type = "KNACK_USER_INFO"
	TypeSaveResult        Type = "SAVE_RESULT"
	TypeData              Type = "KNACK_DATA"
	TypeDataRefreshError  Type = "DATA_REFRESH_ERROR"
	TypeAuthRefreshResult Type = "AUTH_REFRESH_RESULT"
	TypeRecordIDResponse  Type = "RECORD_ID_RESPONSE"
	TypeRecordIDError     Type = "RECORD_ID_ERROR"
)

// Message is the tagged envelope crossing the host/guest boundary
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds an envelope around a payload. Payloads are plain
// structs; a marshal failure here is a programming error and yields an
// empty data member rather than a crash.
func NewMessage(t Type, payload any) Message {
	msg := Message{Type: t}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			msg.Data = data
		}
	}
	return msg
}

// SaveData asks the host to persist a board payload
type SaveData struct {
	RecordID       string         `json:"recordId"`
	Payload        map[string]any `json:"payload"`
	PreserveFields bool           `json:"preserveFields,omitempty"`
}

// SaveResult reports the terminal outcome of a save request
type SaveResult struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UserInfo is the single initial-state message sent after the
// handshake
type UserInfo struct {
	UserID   string         `json:"userId"`
	Email    string         `json:"email,omitempty"`
	Name     string         `json:"name,omitempty"`
	Token    string         `json:"token"`
	AppID    string         `json:"appId"`
	RecordID string         `json:"recordId"`
	Board    map[string]any `json:"board"`
}

// RefreshRequest optionally names the record to reload
type RefreshRequest struct {
	RecordID string `json:"recordId,omitempty"`
}

// Data returns a freshly loaded board payload
type Data struct {
	Payload   map[string]any `json:"payload"`
	RecordID  string         `json:"recordId"`
	Timestamp string         `json:"timestamp"`
}

// RefreshError reports a failed data reload
type RefreshError struct {
	Error string `json:"error"`
}

// AuthRefreshResult returns a fresh platform token or the failure
type AuthRefreshResult struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RecordIDResponse returns the session's resolved record identifier
type RecordIDResponse struct {
	RecordID  string `json:"recordId"`
	Timestamp string `json:"timestamp"`
}

// RecordIDError reports a failed record resolution
type RecordIDError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}
