package bridge

import (
	"sync"

	"github.com/relaypoint/boardsync/internal/identity"
)

// Session holds the resolved identity for one guest connection.
// Created once after the handshake and passed by reference into every
// handler; the token is the only field that mutates afterwards.
type Session struct {
	mu       sync.RWMutex
	userID   string
	email    string
	name     string
	token    string
	recordID string
	appID    string
}

// NewSession creates the session value for a completed handshake
func NewSession(user identity.User, token, recordID, appID string) *Session {
	return &Session{
		userID:   user.ID,
		email:    user.Email,
		name:     user.Name,
		token:    token,
		recordID: recordID,
		appID:    appID,
	}
}

func (s *Session) UserID() string { return s.userID }
func (s *Session) Email() string  { return s.email }
func (s *Session) Name() string   { return s.name }
func (s *Session) AppID() string  { return s.appID }

// Token returns the current platform token
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken refreshes the platform token
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// RecordID returns the resolved record identifier
func (s *Session) RecordID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordID
}
