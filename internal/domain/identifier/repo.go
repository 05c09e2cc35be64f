package identifier

import (
	"context"

	"github.com/google/uuid"

	"github.com/mpi/mpi/internal/platform/temporal"
)

// Repository persists identifier versions and answers digest lookups.
type Repository interface {
	temporal.Repository[*Identifier]
	// FindPatientsByDigest returns the patients holding a current,
	// undeleted identifier with the given digest, scoped to type and
	// system. Ordered by patient id for deterministic output.
	FindPatientsByDigest(ctx context.Context, idType Type, system, digest string) ([]uuid.UUID, error)
	// CurrentByPatient returns every current identifier version the
	// patient holds.
	CurrentByPatient(ctx context.Context, patientID uuid.UUID) ([]*Identifier, error)
}
