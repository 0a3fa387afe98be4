package savequeue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaypoint/boardsync/internal/record"
	"github.com/relaypoint/boardsync/internal/retry"
)

const testRecordID = "507f1f77bcf86cd799439011"

var testFields = record.FieldMap{
	UserID:        "field_1",
	Email:         "field_2",
	Name:          "field_3",
	BoardData:     "field_4",
	LastSaved:     "field_5",
	Relationships: []string{"field_6"},
}

type updateCall struct {
	id     string
	fields map[string]any
}

// mockStore is an in-memory record.Store that can fail a configured
// number of updates before succeeding
type mockStore struct {
	mu             sync.Mutex
	records        map[string]*record.Record
	updates        []updateCall
	updateAttempts int
	getCalls       int
	failUpdates    int
	updateErr      error
	getErr         error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*record.Record)}
}

func (s *mockStore) Get(ctx context.Context, id string) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	return rec, nil
}

func (s *mockStore) Update(ctx context.Context, id string, fields map[string]any) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateAttempts++
	if s.failUpdates > 0 {
		s.failUpdates--
		err := s.updateErr
		if err == nil {
			err = errors.New("transient store failure")
		}
		return nil, err
	}
	s.updates = append(s.updates, updateCall{id: id, fields: fields})
	return &record.Record{ID: id, Fields: fields}, nil
}

func (s *mockStore) Create(ctx context.Context, fields map[string]any) (*record.Record, error) {
	return &record.Record{ID: testRecordID, Fields: fields}, nil
}

func (s *mockStore) FindByUser(ctx context.Context, userID string) (*record.Record, error) {
	return nil, record.ErrNotFound
}

func (s *mockStore) updateCalls() []updateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]updateCall, len(s.updates))
	copy(calls, s.updates)
	return calls
}

func testQueue(store *mockStore) *Queue {
	return New(Options{
		Store:      store,
		Fields:     testFields,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		FetchRetry: retry.Options{MaxRetries: 1, Delay: time.Millisecond},
	})
}

func waitOutcome(t *testing.T, done <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for operation outcome")
		return Outcome{}
	}
}

func TestEnqueue_MissingRecordID(t *testing.T) {
	q := testQueue(newMockStore())

	_, err := q.Enqueue(Operation{Kind: KindBoardState})
	if !errors.Is(err, ErrMissingRecordID) {
		t.Errorf("expected ErrMissingRecordID, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue length changed on rejected enqueue: %d", q.Len())
	}

	// Malformed ids are treated as absent
	_, err = q.Enqueue(Operation{Kind: KindBoardState, RecordID: "not-hex"})
	if !errors.Is(err, ErrMissingRecordID) {
		t.Errorf("expected ErrMissingRecordID for malformed id, got %v", err)
	}
}

func TestEnqueue_MissingKind(t *testing.T) {
	q := testQueue(newMockStore())

	_, err := q.Enqueue(Operation{RecordID: testRecordID})
	if !errors.Is(err, ErrMissingKind) {
		t.Errorf("expected ErrMissingKind, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue length changed on rejected enqueue: %d", q.Len())
	}
}

func TestQueue_SingleSave(t *testing.T) {
	store := newMockStore()
	q := testQueue(store)

	done, err := q.Enqueue(Operation{
		Kind:     KindBoardState,
		RecordID: testRecordID,
		Payload:  map[string]any{"columns": []any{}},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	out := waitOutcome(t, done)
	if out.Err != nil {
		t.Fatalf("save failed: %v", out.Err)
	}
	if out.SavedAt.IsZero() {
		t.Error("outcome missing saved timestamp")
	}

	calls := store.updateCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write, got %d", len(calls))
	}
	if calls[0].fields["field_4"] != `{"columns":[]}` {
		t.Errorf("unexpected board field: %v", calls[0].fields["field_4"])
	}
	if _, ok := calls[0].fields["field_5"].(string); !ok {
		t.Errorf("expected timestamp field, got %v", calls[0].fields["field_5"])
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained: %d", q.Len())
	}
}

func TestQueue_SubmissionOrder(t *testing.T) {
	store := newMockStore()
	q := testQueue(store)

	const n = 5
	var futures []<-chan Outcome
	for i := 0; i < n; i++ {
		done, err := q.Enqueue(Operation{
			Kind:     KindBoardState,
			RecordID: testRecordID,
			Payload:  map[string]any{"seq": i},
		})
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		futures = append(futures, done)
	}

	for i, done := range futures {
		if out := waitOutcome(t, done); out.Err != nil {
			t.Fatalf("save %d failed: %v", i, out.Err)
		}
	}

	calls := store.updateCalls()
	if len(calls) != n {
		t.Fatalf("expected %d writes, got %d", n, len(calls))
	}
	for i, call := range calls {
		var board struct {
			Seq int `json:"seq"`
		}
		unmarshalBoard(t, call.fields["field_4"], &board)
		if board.Seq != i {
			t.Errorf("write %d carried seq %d, submission order violated", i, board.Seq)
		}
	}
}

func TestQueue_GlobalSerialization_DifferentRecords(t *testing.T) {
	store := newMockStore()
	q := testQueue(store)

	otherID := "aaaaaaaaaaaaaaaaaaaaaaaa"
	first, _ := q.Enqueue(Operation{Kind: KindBoardState, RecordID: testRecordID, Payload: map[string]any{"n": 1}})
	second, _ := q.Enqueue(Operation{Kind: KindBoardState, RecordID: otherID, Payload: map[string]any{"n": 2}})

	waitOutcome(t, first)
	waitOutcome(t, second)

	calls := store.updateCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(calls))
	}
	if calls[0].id != testRecordID || calls[1].id != otherID {
		t.Errorf("writes out of submission order: %s then %s", calls[0].id, calls[1].id)
	}
}

func TestQueue_RetryThenSuccess(t *testing.T) {
	store := newMockStore()
	store.failUpdates = 2 // succeed on third attempt
	q := testQueue(store)

	start := time.Now()
	done, _ := q.Enqueue(Operation{
		Kind:     KindBoardState,
		RecordID: testRecordID,
		Payload:  map[string]any{"columns": []any{}},
	})

	out := waitOutcome(t, done)
	if out.Err != nil {
		t.Fatalf("expected eventual success, got %v", out.Err)
	}

	if calls := store.updateCalls(); len(calls) != 1 {
		t.Fatalf("expected exactly 1 successful write recorded, got %d", len(calls))
	}
	store.mu.Lock()
	attempts := store.updateAttempts
	store.mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected exactly 3 write attempts, got %d", attempts)
	}

	// Backoff schedule before the third attempt: 10ms + 20ms
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected at least 30ms elapsed across retries, got %v", elapsed)
	}
}

func TestQueue_TerminalFailure(t *testing.T) {
	store := newMockStore()
	store.failUpdates = 100
	store.updateErr = errors.New("store unreachable")
	q := testQueue(store)

	done, _ := q.Enqueue(Operation{
		Kind:     KindBoardState,
		RecordID: testRecordID,
		Payload:  map[string]any{"columns": []any{}},
	})

	out := waitOutcome(t, done)
	if out.Err == nil {
		t.Fatal("expected terminal failure")
	}

	var terminal *TerminalError
	if !errors.As(out.Err, &terminal) {
		t.Fatalf("expected TerminalError, got %T", out.Err)
	}
	if terminal.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", terminal.Attempts)
	}
	if !errors.Is(out.Err, store.updateErr) {
		t.Errorf("terminal error should wrap the last failure, got %v", out.Err)
	}
	if q.Len() != 0 {
		t.Errorf("failed operation not removed from queue: %d", q.Len())
	}

	// Subsequent operations still get processed
	store.mu.Lock()
	store.failUpdates = 0
	store.mu.Unlock()

	next, _ := q.Enqueue(Operation{
		Kind:     KindBoardState,
		RecordID: testRecordID,
		Payload:  map[string]any{"columns": []any{}},
	})
	if out := waitOutcome(t, next); out.Err != nil {
		t.Fatalf("queue stuck after terminal failure: %v", out.Err)
	}
}

func TestQueue_PreserveFields_MergesRemoteValue(t *testing.T) {
	store := newMockStore()
	store.records[testRecordID] = &record.Record{
		ID: testRecordID,
		Fields: map[string]any{
			"field_6": "team-42", // relationship field, not set by the update
			"field_2": "old@example.com",
		},
	}
	q := testQueue(store)

	done, _ := q.Enqueue(Operation{
		Kind:           KindBoardState,
		RecordID:       testRecordID,
		Payload:        map[string]any{"columns": []any{}},
		PreserveFields: true,
	})
	if out := waitOutcome(t, done); out.Err != nil {
		t.Fatalf("save failed: %v", out.Err)
	}

	calls := store.updateCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write, got %d", len(calls))
	}
	if calls[0].fields["field_6"] != "team-42" {
		t.Errorf("preserved field not merged, got %v", calls[0].fields["field_6"])
	}
	// field_2 is not on the preservation allow-list
	if _, ok := calls[0].fields["field_2"]; ok {
		t.Error("non-allow-listed field was preserved")
	}
}

func TestQueue_PreserveFields_UpdateWins(t *testing.T) {
	store := newMockStore()
	store.records[testRecordID] = &record.Record{
		ID:     testRecordID,
		Fields: map[string]any{"field_4": `{"columns":["stale"]}`},
	}
	q := testQueue(store)

	done, _ := q.Enqueue(Operation{
		Kind:           KindBoardState,
		RecordID:       testRecordID,
		Payload:        map[string]any{"columns": []any{"fresh"}},
		PreserveFields: true,
	})
	if out := waitOutcome(t, done); out.Err != nil {
		t.Fatalf("save failed: %v", out.Err)
	}

	calls := store.updateCalls()
	if calls[0].fields["field_4"] != `{"columns":["fresh"]}` {
		t.Errorf("update value should win over preserved value, got %v", calls[0].fields["field_4"])
	}
}

func TestQueue_PreserveFields_FetchFailureProceeds(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("fetch unavailable")
	q := testQueue(store)

	done, _ := q.Enqueue(Operation{
		Kind:           KindBoardState,
		RecordID:       testRecordID,
		Payload:        map[string]any{"columns": []any{}},
		PreserveFields: true,
	})

	out := waitOutcome(t, done)
	if out.Err != nil {
		t.Fatalf("fetch failure must not abort the save: %v", out.Err)
	}
	if calls := store.updateCalls(); len(calls) != 1 {
		t.Fatalf("expected the write to proceed without preservation, got %d writes", len(calls))
	}
}

func TestQueue_EmptyPayloadSkipsWrite(t *testing.T) {
	store := newMockStore()
	q := testQueue(store)

	done, _ := q.Enqueue(Operation{
		Kind:     KindBoardState,
		RecordID: testRecordID,
	})

	out := waitOutcome(t, done)
	if out.Err != nil {
		t.Fatalf("expected synthetic success, got %v", out.Err)
	}
	if out.SavedAt.IsZero() {
		t.Error("synthetic success missing timestamp")
	}
	if calls := store.updateCalls(); len(calls) != 0 {
		t.Errorf("expected no network write for timestamp-only update, got %d", len(calls))
	}
}

func unmarshalBoard(t *testing.T, raw any, into any) {
	t.Helper()
	s, ok := raw.(string)
	if !ok {
		t.Fatalf("board field is not a string: %T", raw)
	}
	if err := json.Unmarshal([]byte(s), into); err != nil {
		t.Fatalf("board field is not valid JSON: %v", err)
	}
}
