package record

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no record matched the lookup
	ErrNotFound = errors.New("record not found")

	// ErrInvalidID indicates a malformed record identifier
	ErrInvalidID = errors.New("invalid record identifier")

	// ErrUnrepairable indicates a persisted field value that could not
	// be decoded even after the repair pass
	ErrUnrepairable = errors.New("unrepairable field value")
)

// RequestError is a store request that completed with a non-success
// status
type RequestError struct {
	Status  int
	Message string
}

func (e RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store request failed with status %d", e.Status)
	}
	return fmt.Sprintf("store request failed with status %d: %s", e.Status, e.Message)
}
