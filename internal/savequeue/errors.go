package savequeue

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKind rejects an operation without a kind discriminator
	ErrMissingKind = errors.New("operation kind is required")

	// ErrMissingRecordID rejects an operation without a valid target
	// record identifier
	ErrMissingRecordID = errors.New("operation record identifier is required")
)

// TerminalError is a save that exhausted its retry budget. Last is the
// final attempt's failure, unchanged.
type TerminalError struct {
	RecordID string
	Attempts int
	Last     error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("save of record %s failed after %d attempts: %v", e.RecordID, e.Attempts, e.Last)
}

func (e *TerminalError) Unwrap() error {
	return e.Last
}
