// Package temporal is the versioning engine behind every mutable
// patient attribute. Each attribute table holds time-sliced rows; for a
// given (patient, sub-key) chain at most one row is current and
// undeleted, and that row's effective_to is the open-ended sentinel.
// Closed rows are immutable history.
//
// Each versioned attribute implements Entity once, giving the engine
// static dispatch instead of table-name strings.
package temporal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/errs"
)

// EndOfTime is the open-ended effective_to sentinel.
var EndOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// VersionMeta is the version bookkeeping embedded in every versioned
// attribute row. Its shape is part of the storage contract: identity,
// effective range, current flag, soft-delete fields, and actor stamps.
type VersionMeta struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo   time.Time  `db:"effective_to" json:"effective_to"`
	IsCurrent     bool       `db:"is_current" json:"is_current"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	CreatedBy     string     `db:"created_by" json:"created_by"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	UpdatedBy     string     `db:"updated_by" json:"updated_by"`
	DeletedAt     *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy     *string    `db:"deleted_by" json:"deleted_by,omitempty"`
	DeleteReason  *string    `db:"delete_reason" json:"delete_reason,omitempty"`
}

// Deleted reports whether the row has been soft-deleted.
func (m *VersionMeta) Deleted() bool { return m.DeletedAt != nil }

// CoversAt reports whether the row was the visible version at ts:
// inside the effective range and not yet deleted at that instant.
func (m *VersionMeta) CoversAt(ts time.Time) bool {
	if ts.Before(m.EffectiveFrom) || !ts.Before(m.EffectiveTo) {
		return false
	}
	return m.DeletedAt == nil || ts.Before(*m.DeletedAt)
}

// Entity is implemented once per versioned attribute type.
type Entity interface {
	Meta() *VersionMeta
	// SubKey distinguishes independent version chains within one
	// patient and attribute kind: the name type for names, country plus
	// id type for government IDs, the facility for MRNs. Empty for
	// single-chain attributes.
	SubKey() string
}

// Repository persists one versioned attribute table.
type Repository[T Entity] interface {
	Insert(ctx context.Context, entity T) error
	// Close performs the only transition allowed on a current row:
	// current -> closed. Returns false when the row is not current and
	// undeleted (already closed, deleted, or missing).
	Close(ctx context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error)
	// MarkDeleted closes the row and stamps deletion metadata. Same
	// guard as Close.
	MarkDeleted(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error)
	// Current returns the open row for the chain, or errs.ErrNotFound.
	Current(ctx context.Context, patientID uuid.UUID, subKey string) (T, error)
	// At returns the row visible at ts, or errs.ErrNotFound.
	At(ctx context.Context, patientID uuid.UUID, subKey string, ts time.Time) (T, error)
	// All returns every row for the chain, soft-deleted included,
	// ordered by effective_from descending.
	All(ctx context.Context, patientID uuid.UUID, subKey string) ([]T, error)
}

// FindingKind classifies a consistency finding.
type FindingKind string

const (
	FindingGap     FindingKind = "gap"
	FindingOverlap FindingKind = "overlap"
)

// Finding is one diagnostic from ValidateConsistency. Gaps are
// tolerated but flagged, never auto-healed.
type Finding struct {
	Kind   FindingKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Store drives the versioning discipline for one attribute type.
type Store[T Entity] struct {
	kind   string
	repo   Repository[T]
	runner db.TxRunner
	logger zerolog.Logger
}

// NewStore creates a Store. kind names the attribute for logs.
func NewStore[T Entity](kind string, repo Repository[T], runner db.TxRunner, logger zerolog.Logger) *Store[T] {
	return &Store[T]{kind: kind, repo: repo, runner: runner, logger: logger}
}

// CreateVersion opens a new current version for the entity's chain,
// closing the previous current row in the same transaction. With
// mustExist set the call fails with errs.ErrNoCurrentVersion when the
// chain has no open row (an update was requested against nothing).
//
// A caller-supplied effective_to is corrected to the open-ended
// sentinel, with a warning: current rows are always open.
func (s *Store[T]) CreateVersion(ctx context.Context, entity T, actor string, mustExist bool) (uuid.UUID, error) {
	meta := entity.Meta()
	if meta.PatientID == uuid.Nil {
		return uuid.Nil, &errs.ValidationError{Field: "patient_id", Detail: "required"}
	}
	if actor == "" {
		return uuid.Nil, &errs.ValidationError{Field: "actor", Detail: "required"}
	}

	now := time.Now().UTC()
	if meta.EffectiveFrom.IsZero() {
		meta.EffectiveFrom = now
	}
	if meta.EffectiveFrom.After(EndOfTime) {
		return uuid.Nil, &errs.ValidationError{Field: "effective_from", Detail: "beyond open-ended sentinel"}
	}
	if !meta.EffectiveTo.IsZero() && !meta.EffectiveTo.Equal(EndOfTime) {
		s.logger.Warn().
			Str("attribute", s.kind).
			Str("patient_id", meta.PatientID.String()).
			Time("supplied_effective_to", meta.EffectiveTo).
			Msg("effective_to on a new current version corrected to the open-ended sentinel")
	}
	meta.EffectiveTo = EndOfTime
	meta.IsCurrent = true

	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.Current(ctx, meta.PatientID, entity.SubKey())
		switch {
		case err == nil:
			prevMeta := prev.Meta()
			if meta.EffectiveFrom.Before(prevMeta.EffectiveFrom) {
				return &errs.OverlapError{
					Key:           s.chainKey(meta.PatientID, entity.SubKey()),
					EffectiveFrom: meta.EffectiveFrom,
					PreviousFrom:  prevMeta.EffectiveFrom,
				}
			}
			closed, err := s.repo.Close(ctx, prevMeta.ID, meta.EffectiveFrom, actor)
			if err != nil {
				return err
			}
			if !closed {
				// The row we just read stopped being current: a
				// concurrent writer won the race.
				return &errs.ConflictError{
					Resource: s.kind,
					Key:      s.chainKey(meta.PatientID, entity.SubKey()),
				}
			}
		case errors.Is(err, errs.ErrNotFound):
			if mustExist {
				return errs.ErrNoCurrentVersion
			}
		default:
			return err
		}

		meta.ID = uuid.New()
		meta.CreatedAt = now
		meta.CreatedBy = actor
		meta.UpdatedAt = now
		meta.UpdatedBy = actor

		if err := s.repo.Insert(ctx, entity); err != nil {
			if db.IsUniqueViolation(err) {
				return &errs.ConflictError{
					Resource: s.kind,
					Key:      s.chainKey(meta.PatientID, entity.SubKey()),
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return meta.ID, nil
}

// SoftDelete closes the row and stamps deletion metadata. Returns
// false, not an error, when the row is not a current undeleted version.
func (s *Store[T]) SoftDelete(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	if actor == "" {
		return false, &errs.ValidationError{Field: "actor", Detail: "required"}
	}
	return s.repo.MarkDeleted(ctx, rowID, actor, reason)
}

// Current returns the open version of the chain.
func (s *Store[T]) Current(ctx context.Context, patientID uuid.UUID, subKey string) (T, error) {
	return s.repo.Current(ctx, patientID, subKey)
}

// At returns the version visible at ts.
func (s *Store[T]) At(ctx context.Context, patientID uuid.UUID, subKey string, ts time.Time) (T, error) {
	return s.repo.At(ctx, patientID, subKey, ts)
}

// All returns the full version history, most recent first,
// soft-deleted rows included.
func (s *Store[T]) All(ctx context.Context, patientID uuid.UUID, subKey string) ([]T, error) {
	return s.repo.All(ctx, patientID, subKey)
}

// ValidateConsistency inspects the chain for gaps and overlaps between
// consecutive versions. Diagnostic only: nothing is repaired.
func (s *Store[T]) ValidateConsistency(ctx context.Context, patientID uuid.UUID, subKey string) ([]Finding, error) {
	rows, err := s.repo.All(ctx, patientID, subKey)
	if err != nil {
		return nil, err
	}

	// All returns newest first; walk oldest to newest.
	var findings []Finding
	for i := len(rows) - 1; i > 0; i-- {
		older := rows[i].Meta()
		newer := rows[i-1].Meta()
		switch {
		case newer.EffectiveFrom.Before(older.EffectiveTo):
			findings = append(findings, Finding{
				Kind: FindingOverlap,
				Detail: "version starting " + newer.EffectiveFrom.Format(time.RFC3339) +
					" overlaps version ending " + older.EffectiveTo.Format(time.RFC3339),
			})
		case newer.EffectiveFrom.After(older.EffectiveTo):
			findings = append(findings, Finding{
				Kind: FindingGap,
				Detail: "gap between " + older.EffectiveTo.Format(time.RFC3339) +
					" and " + newer.EffectiveFrom.Format(time.RFC3339),
			})
		}
	}
	return findings, nil
}

func (s *Store[T]) chainKey(patientID uuid.UUID, subKey string) string {
	if subKey == "" {
		return patientID.String()
	}
	return patientID.String() + "/" + subKey
}
