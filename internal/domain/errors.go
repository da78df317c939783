package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no valid bearer credential accompanies a request.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller is not a member of the target organization.
	ErrForbidden = errors.New("not a member of organization")
	// ErrNotFound covers unknown provenance records and missing emission factors.
	ErrNotFound = errors.New("not found")
	// ErrReferenceDataMissing aborts a batch when no emission factors are loaded.
	ErrReferenceDataMissing = errors.New("no emission factors available")
	// ErrBatchInProgress is returned when another batch holds the organization lock.
	ErrBatchInProgress = errors.New("calculation batch already running for organization")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Message string
	Allowed []string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if len(e.Allowed) > 0 {
		msg += " (supported: " + strings.Join(e.Allowed, ", ") + ")"
	}
	return msg
}

// Persistence stages reported by PersistenceError.
const (
	StageLoad               = "load"
	StageCalculatedEmission = "calculated_emission"
	StageCalculationLog     = "calculation_log"
	StageOutbox             = "outbox"
)

// PersistenceError halts a batch at the record whose write failed. Succeeded
// counts the records committed before the fault so operators can resume.
type PersistenceError struct {
	Index      int
	ActivityID string
	Succeeded  int
	Stage      string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for activity %s (index %d, %d committed before fault): %v",
		e.Stage, e.ActivityID, e.Index, e.Succeeded, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StageError lets repositories tag which write of a unit of work failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }
