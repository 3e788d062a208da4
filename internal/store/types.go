package store

import (
	"errors"
	"time"

	"table-status-backend/internal/model"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write finds the document changed since it was read.
	ErrConflict = errors.New("conflict")
)

// TablePatch is a partial update of a table. Nil fields are left untouched.
type TablePatch struct {
	Name              *string
	Capacity          *int
	Note              *string
	CustomWaitMessage *string
}

// Empty reports whether the patch changes nothing.
func (p TablePatch) Empty() bool {
	return p.Name == nil && p.Capacity == nil && p.Note == nil && p.CustomWaitMessage == nil
}

// AttemptsFunc receives the stored attempts of a user and returns the attempts to persist.
// Returning an error aborts the update without writing.
type AttemptsFunc func(attempts []time.Time) ([]time.Time, error)

// ClaimResult is the outcome of a committed claim.
type ClaimResult struct {
	Table      model.Table
	ClaimCount int64
}
