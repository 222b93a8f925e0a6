package service

import (
	"errors"
	"fmt"
)

// ErrConflict signals that a version-gated write lost to a concurrent
// writer. The save engine retries it internally; callers only see it after
// retry exhaustion, wrapped in a SaveExhaustedError.
var ErrConflict = errors.New("version conflict")

// ErrClearInProgress signals that another caller holds the atomic-operation
// lock for the same identity while clearing its progress. The caller backs
// off and retries; nothing was modified.
var ErrClearInProgress = errors.New("clear already in progress")

// SaveExhaustedError is the fatal outcome of a save whose retries ran out.
// The in-memory state is intact; the caller informs the user and may retry
// manually.
type SaveExhaustedError struct {
	UserID   string
	Attempts int
	Err      error
}

func (e *SaveExhaustedError) Error() string {
	return fmt.Sprintf("save abandoned after %d attempts for user %s: %v", e.Attempts, e.UserID, e.Err)
}

func (e *SaveExhaustedError) Unwrap() error { return e.Err }

// MigrationError is the terminal outcome of a migration whose retries ran
// out. The anonymous record is untouched (cleanup only runs on success), so
// a future attempt can retry from scratch.
type MigrationError struct {
	UserID    string
	SessionID string
	Attempts  int
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed after %d attempts for user %s: %v", e.Attempts, e.UserID, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
