package link

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists link edges.
type Repository interface {
	Insert(ctx context.Context, l *PatientLink) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientLink, error)
	// ActiveByChild returns the single active edge holding the child
	// merged, or errs.ErrNotFound.
	ActiveByChild(ctx context.Context, childID uuid.UUID) (*PatientLink, error)
	// ActiveByMaster returns the active edges under the master,
	// ordered by child id.
	ActiveByMaster(ctx context.Context, masterID uuid.UUID) ([]*PatientLink, error)
	// UpdateStatus transitions the edge from one of the expected
	// statuses. Returns false when the edge is missing or not in an
	// expected status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, actor, reason string) (bool, error)
	// ListByPatient returns every edge touching the patient, newest
	// first, terminal edges included.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*PatientLink, error)
}
