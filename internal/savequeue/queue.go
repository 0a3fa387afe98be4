// Package savequeue serializes board-state writes against the remote
// record store. All writes pass through one FIFO queue with at most
// one operation in flight, globally across all records. A slow or
// retried write for one record delays queued writes for every other
// record; ordering guarantees depend on this.
package savequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaypoint/boardsync/internal/record"
	"github.com/relaypoint/boardsync/internal/retry"
)

// Kind discriminates the payload shape of an operation
type Kind string

// KindBoardState replaces the serialized board payload of a record
const KindBoardState Kind = "board_state"

// Operation is a requested mutation of one remote record
type Operation struct {
	Kind           Kind
	RecordID       string
	Payload        map[string]any
	PreserveFields bool
}

// Outcome settles an operation's future exactly once: either SavedAt
// is set, or Err carries the terminal failure
type Outcome struct {
	SavedAt time.Time
	Err     error
}

// Options configures a Queue
type Options struct {
	Store  record.Store
	Fields record.FieldMap

	// MaxRetries is the total write attempts per operation before its
	// future is rejected. Zero selects the default of 3.
	MaxRetries int

	// RetryDelay is the base backoff between write attempts; the wait
	// after the n-th failure is RetryDelay * 2^(n-1). Zero selects 1s.
	RetryDelay time.Duration

	// FetchRetry tunes the retry executor wrapping the
	// field-preservation fetch
	FetchRetry retry.Options

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Queue is the write-coalescing save queue. The processing flag is a
// non-reentrant lock guaranteeing at most one outstanding write
// request at any time.
type Queue struct {
	store      record.Store
	fields     record.FieldMap
	preserve   []string
	maxRetries int
	retryDelay time.Duration
	fetchRetry retry.Options
	now        func() time.Time

	mu         sync.Mutex
	items      []*pending
	attempts   map[*pending]int
	processing bool
}

// pending tags an operation with its submission timestamp and the
// one-shot channel that settles its future
type pending struct {
	op          Operation
	submittedAt time.Time
	done        chan Outcome
}

// New creates a save queue against the given store
func New(opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = retry.DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = retry.DefaultDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		store:      opts.Store,
		fields:     opts.Fields,
		preserve:   opts.Fields.Preservable(),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		fetchRetry: opts.FetchRetry,
		now:        opts.Now,
		attempts:   make(map[*pending]int),
	}
}

// Enqueue validates and appends an operation, triggers processing, and
// returns a future that settles exactly once. Validation failures
// reject synchronously without touching the queue.
func (q *Queue) Enqueue(op Operation) (<-chan Outcome, error) {
	if op.Kind == "" {
		return nil, ErrMissingKind
	}
	if !record.ValidID(op.RecordID) {
		return nil, ErrMissingRecordID
	}

	p := &pending{
		op:          op,
		submittedAt: q.now(),
		done:        make(chan Outcome, 1),
	}

	q.mu.Lock()
	q.items = append(q.items, p)
	depth := len(q.items)
	q.mu.Unlock()

	log.Debug().
		Str("recordId", op.RecordID).
		Str("kind", string(op.Kind)).
		Bool("preserveFields", op.PreserveFields).
		Int("depth", depth).
		Msg("save operation enqueued")

	go q.process()
	return p.done, nil
}

// Len returns the current queue depth
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// process runs one pass over the queue head. Idempotent and
// re-entrant-safe: a no-op while another pass holds the processing
// flag or when the queue is empty.
func (q *Queue) process() {
	q.mu.Lock()
	if q.processing || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.processing = true
	p := q.items[0]
	q.mu.Unlock()

	ctx := context.Background()
	update, savedAt := q.prepare(ctx, p)

	if err := q.perform(ctx, p, update); err != nil {
		q.fail(p, err)
		return
	}
	q.resolve(p, savedAt)
}

// prepare builds the update payload: always the last-saved stamp,
// the serialized payload for the operation's kind, and preserved
// fields merged in when requested. A failed preservation fetch is
// logged and the save proceeds without preservation.
func (q *Queue) prepare(ctx context.Context, p *pending) (map[string]any, time.Time) {
	savedAt := q.now()
	update := map[string]any{
		q.fields.LastSaved: savedAt.UTC().Format(time.RFC3339),
	}

	switch p.op.Kind {
	case KindBoardState:
		if p.op.Payload != nil {
			update[q.fields.BoardData] = q.serializeBoard(p.op.Payload)
		}
	default:
		log.Warn().Str("kind", string(p.op.Kind)).Msg("unknown operation kind, saving timestamp only")
	}

	if !p.op.PreserveFields {
		return update, savedAt
	}

	fetched, err := retry.DoValue(ctx, q.fetchRetry, func(ctx context.Context) (*record.Record, error) {
		return q.store.Get(ctx, p.op.RecordID)
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("recordId", p.op.RecordID).
			Msg("preservation fetch failed, saving without preserved fields")
		return update, savedAt
	}

	// Update values always win over preserved values
	for _, field := range q.preserve {
		if _, set := update[field]; set {
			continue
		}
		if v, ok := fetched.Fields[field]; ok && v != nil {
			update[field] = v
		}
	}
	return update, savedAt
}

// serializeBoard encodes the board payload to its transport string.
// A payload the codec rejects gets one duplicate-reference stripping
// pass; if that also fails, the raw rendering is sent rather than
// blocking the queue. Lossy best-effort, not a hard failure.
func (q *Queue) serializeBoard(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err == nil {
		return string(data)
	}

	stripped := StripCycles(payload)
	data, err = json.Marshal(stripped)
	if err == nil {
		log.Warn().Msg("board payload contained non-serializable values, stripped before save")
		return string(data)
	}

	log.Error().Err(err).Msg("board payload unserializable after stripping, sending raw rendering")
	return fmt.Sprint(payload)
}

// perform issues the write, skipping the network entirely when the
// update carries nothing beyond the timestamp stamp
func (q *Queue) perform(ctx context.Context, p *pending, update map[string]any) error {
	if len(update) == 1 {
		if _, only := update[q.fields.LastSaved]; only {
			log.Debug().
				Str("recordId", p.op.RecordID).
				Msg("update payload empty beyond timestamp, skipping write")
			return nil
		}
	}
	_, err := q.store.Update(ctx, p.op.RecordID, update)
	return err
}

// resolve settles a successful operation and re-triggers processing
func (q *Queue) resolve(p *pending, savedAt time.Time) {
	q.mu.Lock()
	q.removeLocked(p)
	delete(q.attempts, p)
	q.processing = false
	q.mu.Unlock()

	p.done <- Outcome{SavedAt: savedAt}
	go q.process()
}

// fail handles a write failure: stale errors are swallowed, retryable
// failures leave the operation at the head and reschedule processing
// after backoff, terminal failures settle the future and move on.
func (q *Queue) fail(p *pending, err error) {
	q.mu.Lock()

	if len(q.items) == 0 || q.items[0] != p {
		// Stale error: the failing operation is no longer the head.
		// Swallow it and kick processing again.
		q.processing = false
		q.mu.Unlock()
		log.Warn().
			Err(err).
			Str("recordId", p.op.RecordID).
			Msg("error for operation no longer at queue head, ignoring")
		go q.process()
		return
	}

	q.attempts[p]++
	n := q.attempts[p]

	if n < q.maxRetries {
		q.processing = false
		delay := q.retryDelay * time.Duration(1<<(n-1))
		q.mu.Unlock()

		log.Warn().
			Err(err).
			Str("recordId", p.op.RecordID).
			Int("attempt", n).
			Int("maxRetries", q.maxRetries).
			Dur("delay", delay).
			Msg("save failed, retrying after backoff")

		time.AfterFunc(delay, q.process)
		return
	}

	q.removeLocked(p)
	delete(q.attempts, p)
	q.processing = false
	q.mu.Unlock()

	log.Error().
		Err(err).
		Str("recordId", p.op.RecordID).
		Int("attempts", n).
		Msg("save failed terminally")

	p.done <- Outcome{Err: &TerminalError{RecordID: p.op.RecordID, Attempts: n, Last: err}}
	go q.process()
}

// removeLocked drops p from the queue. The head is the expected
// position; searching by identity is a guard against queue corruption.
func (q *Queue) removeLocked(p *pending) {
	if len(q.items) > 0 && q.items[0] == p {
		q.items = q.items[1:]
		return
	}
	for i, item := range q.items {
		if item == p {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
