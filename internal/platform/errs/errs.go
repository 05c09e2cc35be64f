// Package errs defines the error taxonomy shared by the MPI core.
// NotFound and Conflict are expected, retry-or-resubmit conditions;
// the remaining types signal logic or data-quality problems that must
// surface to the caller rather than being retried.
package errs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no current or target record exists.
	ErrNotFound = errors.New("record not found")

	// ErrNoCurrentVersion indicates an update was requested for a logical
	// key that has no open version.
	ErrNoCurrentVersion = errors.New("no current version for key")
)

// ConflictError indicates a concurrent writer lost a uniqueness race
// (one-current-row-per-key or one-active-link-per-child).
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: concurrent writer won", e.Resource, e.Key)
}

// InvariantViolation indicates an attempted transition the temporal or
// linking discipline forbids, such as mutating a closed row.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Detail
}

// OverlapError indicates a non-monotonic effective_from that would
// overlap the previous version's time slice.
type OverlapError struct {
	Key           string
	EffectiveFrom time.Time
	PreviousFrom  time.Time
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("effective_from %s for key %q precedes previous version start %s",
		e.EffectiveFrom.Format(time.RFC3339), e.Key, e.PreviousFrom.Format(time.RFC3339))
}

// AlreadyLinkedError indicates the child patient already has an active
// confirmed or auto-confirmed link.
type AlreadyLinkedError struct {
	ChildID uuid.UUID
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("patient %s is already linked to a master", e.ChildID)
}

// CircularLinkError indicates the requested edge would create a cycle.
type CircularLinkError struct {
	MasterID uuid.UUID
	ChildID  uuid.UUID
}

func (e *CircularLinkError) Error() string {
	return fmt.Sprintf("linking %s under %s would create a cycle", e.ChildID, e.MasterID)
}

// SelfReferenceError indicates a self-link or self-match attempt.
type SelfReferenceError struct {
	PatientID uuid.UUID
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf("patient %s cannot reference itself", e.PatientID)
}

// ValidationError indicates malformed input such as an inverted date
// range or an out-of-bounds confidence score.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// IsRetryable reports whether the error is an expected condition the
// caller may resolve by retrying or resubmitting.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	return errors.Is(err, ErrNotFound) || errors.As(err, &conflict)
}
