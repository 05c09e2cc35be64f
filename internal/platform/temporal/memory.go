package temporal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpi/mpi/internal/platform/errs"
)

// MemoryRepository is an in-memory Repository. Used by tests and by
// tooling that replays version history without a database.
type MemoryRepository[T Entity] struct {
	mu   sync.Mutex
	rows []T
}

func NewMemoryRepository[T Entity]() *MemoryRepository[T] {
	return &MemoryRepository[T]{}
}

func (r *MemoryRepository[T]) Insert(_ context.Context, entity T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, entity)
	return nil
}

func (r *MemoryRepository[T]) Close(_ context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		meta := row.Meta()
		if meta.ID != rowID {
			continue
		}
		if !meta.IsCurrent || meta.Deleted() {
			return false, nil
		}
		meta.IsCurrent = false
		meta.EffectiveTo = effectiveTo
		meta.UpdatedAt = time.Now().UTC()
		meta.UpdatedBy = actor
		return true, nil
	}
	return false, nil
}

func (r *MemoryRepository[T]) MarkDeleted(_ context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		meta := row.Meta()
		if meta.ID != rowID {
			continue
		}
		if !meta.IsCurrent || meta.Deleted() {
			return false, nil
		}
		now := time.Now().UTC()
		meta.IsCurrent = false
		meta.EffectiveTo = now
		meta.DeletedAt = &now
		meta.DeletedBy = &actor
		if reason != "" {
			meta.DeleteReason = &reason
		}
		meta.UpdatedAt = now
		meta.UpdatedBy = actor
		return true, nil
	}
	return false, nil
}

func (r *MemoryRepository[T]) Current(_ context.Context, patientID uuid.UUID, subKey string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		meta := row.Meta()
		if meta.PatientID == patientID && row.SubKey() == subKey && meta.IsCurrent && !meta.Deleted() {
			return row, nil
		}
	}
	var zero T
	return zero, errs.ErrNotFound
}

func (r *MemoryRepository[T]) At(_ context.Context, patientID uuid.UUID, subKey string, ts time.Time) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		meta := row.Meta()
		if meta.PatientID == patientID && row.SubKey() == subKey && meta.CoversAt(ts) {
			return row, nil
		}
	}
	var zero T
	return zero, errs.ErrNotFound
}

func (r *MemoryRepository[T]) All(_ context.Context, patientID uuid.UUID, subKey string) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, row := range r.rows {
		if row.Meta().PatientID == patientID && row.SubKey() == subKey {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Meta().EffectiveFrom.After(out[j].Meta().EffectiveFrom)
	})
	return out, nil
}
