package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigationTimeout means a page, the login flow, or the grid
	// container did not become ready before the deadline.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrGridNotFound means the grid container never materialized in the DOM.
	ErrGridNotFound = errors.New("grid container not found")

	// ErrNoKnownColumns means the rendered header matched none of the
	// configured column labels, so no row could be interpreted.
	ErrNoKnownColumns = errors.New("grid header matched no known columns")

	// ErrRunActive means another process already holds the run lock.
	ErrRunActive = errors.New("another run already holds the run lock")
)

// Filter stages reported by FilterError.
const (
	FilterStageStatus = "status"
	FilterStageDate   = "date"
	FilterStageID     = "id"
)

// FilterError reports which grid filter could not be applied.
type FilterError struct {
	Stage string
	Err   error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("apply %s filter: %v", e.Stage, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed batch transaction. The batch is atomic, so
// a PersistenceError means no row of the run was written.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist batch: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
