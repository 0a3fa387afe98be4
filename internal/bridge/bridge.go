// Package bridge owns the host side of the host/guest boundary: the
// startup handshake, message-type routing to handlers, and the session
// those handlers consume. Handlers enqueue work on the save queue or
// query the record store, then emit one correlated response message.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/boardsync/internal/identity"
	"github.com/relaypoint/boardsync/internal/record"
	"github.com/relaypoint/boardsync/internal/retry"
	"github.com/relaypoint/boardsync/internal/savequeue"
)

// State is the bridge lifecycle
type State int

const (
	StateUninitialized State = iota
	StateAwaitingHandshake
	StateActive
)

// Options configures a Bridge. Queue and Store are injected; the
// bridge never constructs its own.
type Options struct {
	Channel     Channel
	Store       record.Store
	Fields      record.FieldMap
	Queue       *savequeue.Queue
	Identity    identity.Provider
	AppID       string
	LookupRetry retry.Options
}

// Bridge runs the message protocol for one guest connection
type Bridge struct {
	ch          Channel
	store       record.Store
	fields      record.FieldMap
	queue       *savequeue.Queue
	ident       identity.Provider
	appID       string
	lookupRetry retry.Options
	logger      zerolog.Logger

	mu       sync.Mutex
	state    State
	session  *Session
	revealed bool
	ready    bool
}

// New creates a bridge in the Uninitialized state
func New(opts Options) *Bridge {
	return &Bridge{
		ch:          opts.Channel,
		store:       opts.Store,
		fields:      opts.Fields,
		queue:       opts.Queue,
		ident:       opts.Identity,
		appID:       opts.AppID,
		lookupRetry: opts.LookupRetry,
		logger:      log.With().Str("component", "bridge").Logger(),
		state:       StateUninitialized,
	}
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Revealed reports whether the guest frame has been shown (set once
// the handshake completes)
func (b *Bridge) Revealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revealed
}

// Ready reports whether the guest confirmed authentication and the UI
// left its loading state
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Session returns the session resolved by the handshake, nil before it
func (b *Bridge) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Run attaches the single inbound listener and routes messages until
// the channel closes or the context is cancelled. The handshake must
// arrive before any other traffic is honored.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.state = StateAwaitingHandshake
	b.mu.Unlock()
	defer b.ch.Close()

	b.logger.Debug().Msg("bridge mounted, awaiting handshake")

	for {
		msg, err := b.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				b.logger.Debug().Msg("bridge channel closed")
				return nil
			}
			return err
		}
		b.dispatch(ctx, msg)
	}
}

// dispatch routes one inbound message. Messages without a type are
// discarded silently; unknown types are logged and dropped with no
// response.
func (b *Bridge) dispatch(ctx context.Context, msg Message) {
	if msg.Type == "" {
		return
	}

	if msg.Type == TypeAppReady {
		b.handleAppReady(ctx)
		return
	}

	if b.State() != StateActive {
		b.logger.Debug().Str("type", string(msg.Type)).Msg("message before handshake completed, dropping")
		return
	}

	switch msg.Type {
	case TypeSaveData:
		b.handleSave(ctx, msg.Data)
	case TypeRequestUpdatedData:
		b.handleRefresh(ctx, msg.Data)
	case TypeRequestTokenRefresh:
		b.handleTokenRefresh(ctx)
	case TypeRequestRecordID:
		b.handleRecordID(ctx)
	case TypeAuthConfirmed:
		b.handleAuthConfirmed()
	default:
		b.logger.Warn().Str("type", string(msg.Type)).Msg("unknown message type, dropping")
	}
}

// handleAppReady executes the startup handshake: resolve identity and
// the user's record (creating one if none exists), build the session,
// and send the single initial-state message. Duplicate handshakes are
// recognized and ignored; at most one initial-state message is ever
// sent per connection.
func (b *Bridge) handleAppReady(ctx context.Context) {
	b.mu.Lock()
	if b.state == StateActive {
		b.mu.Unlock()
		b.logger.Debug().Msg("duplicate handshake, ignoring")
		return
	}
	b.mu.Unlock()

	user, err := b.ident.User(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("handshake failed: no identity")
		return
	}
	token, err := b.ident.Token(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("handshake failed: no token")
		return
	}

	rec, err := b.resolveRecord(ctx, "", user)
	if err != nil {
		b.logger.Error().Err(err).Str("userId", user.ID).Msg("handshake failed: record resolution")
		return
	}

	session := NewSession(user, token, rec.ID, b.appID)

	b.mu.Lock()
	b.session = session
	b.state = StateActive
	b.revealed = true
	b.mu.Unlock()

	b.logger.Info().
		Str("userId", user.ID).
		Str("recordId", rec.ID).
		Msg("handshake complete")

	b.send(ctx, NewMessage(TypeUserInfo, UserInfo{
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Token:    token,
		AppID:    b.appID,
		RecordID: rec.ID,
		Board:    rec.BoardPayload(b.fields),
	}))
}

// handleSave enqueues a save operation and reports its terminal
// outcome. Validation failures answer immediately; accepted saves
// answer when the queue settles the future.
func (b *Bridge) handleSave(ctx context.Context, data json.RawMessage) {
	var req SaveData
	if err := json.Unmarshal(data, &req); err != nil {
		b.send(ctx, NewMessage(TypeSaveResult, SaveResult{Success: false, Error: "malformed save request"}))
		return
	}

	done, err := b.queue.Enqueue(savequeue.Operation{
		Kind:           savequeue.KindBoardState,
		RecordID:       req.RecordID,
		Payload:        req.Payload,
		PreserveFields: req.PreserveFields,
	})
	if err != nil {
		b.send(ctx, NewMessage(TypeSaveResult, SaveResult{Success: false, Error: err.Error()}))
		return
	}

	go func() {
		out := <-done
		if out.Err != nil {
			b.send(ctx, NewMessage(TypeSaveResult, SaveResult{Success: false, Error: out.Err.Error()}))
			return
		}
		b.send(ctx, NewMessage(TypeSaveResult, SaveResult{
			Success:   true,
			Timestamp: out.SavedAt.UTC().Format(time.RFC3339),
		}))
	}()
}

// handleRefresh reloads the requested record, falling back to the
// session user's own record when no id (or a malformed one) is given
func (b *Bridge) handleRefresh(ctx context.Context, data json.RawMessage) {
	var req RefreshRequest
	if len(data) > 0 {
		_ = json.Unmarshal(data, &req)
	}

	rec, err := b.resolveRecord(ctx, req.RecordID, b.sessionUser())
	if err != nil {
		b.send(ctx, NewMessage(TypeDataRefreshError, RefreshError{Error: err.Error()}))
		return
	}

	b.send(ctx, NewMessage(TypeData, Data{
		Payload:   rec.BoardPayload(b.fields),
		RecordID:  rec.ID,
		Timestamp: nowStamp(),
	}))
}

// handleTokenRefresh fetches a fresh platform token and stores it on
// the session
func (b *Bridge) handleTokenRefresh(ctx context.Context) {
	token, err := b.ident.Token(ctx)
	if err != nil {
		b.send(ctx, NewMessage(TypeAuthRefreshResult, AuthRefreshResult{Success: false, Error: err.Error()}))
		return
	}

	b.Session().SetToken(token)
	b.send(ctx, NewMessage(TypeAuthRefreshResult, AuthRefreshResult{Success: true, Token: token}))
}

// handleRecordID answers with the session's resolved record id,
// re-resolving if the handshake somehow left it unset
func (b *Bridge) handleRecordID(ctx context.Context) {
	if id := b.Session().RecordID(); record.ValidID(id) {
		b.send(ctx, NewMessage(TypeRecordIDResponse, RecordIDResponse{RecordID: id, Timestamp: nowStamp()}))
		return
	}

	rec, err := b.resolveRecord(ctx, "", b.sessionUser())
	if err != nil {
		b.send(ctx, NewMessage(TypeRecordIDError, RecordIDError{Error: err.Error(), Timestamp: nowStamp()}))
		return
	}
	b.send(ctx, NewMessage(TypeRecordIDResponse, RecordIDResponse{RecordID: rec.ID, Timestamp: nowStamp()}))
}

// handleAuthConfirmed flips the UI from loading to ready. This
// notification has no response message.
func (b *Bridge) handleAuthConfirmed() {
	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()
	b.logger.Debug().Msg("guest confirmed authentication")
}

// resolveRecord loads a record by id when a valid one is given,
// otherwise finds the user's record by identity lookup, creating a
// fresh one with a default payload when none exists. Lookups run
// through the retry executor; creation is attempted once because it is
// not idempotent.
func (b *Bridge) resolveRecord(ctx context.Context, recordID string, user identity.User) (*record.Record, error) {
	if record.ValidID(recordID) {
		return retry.DoValue(ctx, b.lookupRetry, func(ctx context.Context) (*record.Record, error) {
			return b.store.Get(ctx, recordID)
		})
	}

	rec, err := retry.DoValue(ctx, b.lookupRetry, func(ctx context.Context) (*record.Record, error) {
		r, err := b.store.FindByUser(ctx, user.ID)
		if errors.Is(err, record.ErrNotFound) {
			return nil, nil
		}
		return r, err
	})
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	board, err := json.Marshal(record.DefaultBoardPayload())
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		b.fields.UserID:    user.ID,
		b.fields.BoardData: string(board),
		b.fields.LastSaved: nowStamp(),
	}
	if user.Email != "" {
		fields[b.fields.Email] = user.Email
	}
	if user.Name != "" {
		fields[b.fields.Name] = user.Name
	}

	created, err := b.store.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	b.logger.Info().
		Str("userId", user.ID).
		Str("recordId", created.ID).
		Msg("created record for new user")
	return created, nil
}

// sessionUser rebuilds the identity value from the active session
func (b *Bridge) sessionUser() identity.User {
	s := b.Session()
	if s == nil {
		return identity.User{}
	}
	return identity.User{ID: s.UserID(), Email: s.Email(), Name: s.Name()}
}

// send delivers an outbound message; failures are logged, never
// propagated across the channel boundary
func (b *Bridge) send(ctx context.Context, msg Message) {
	if err := b.ch.Send(ctx, msg); err != nil {
		b.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("failed to send message to guest")
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
