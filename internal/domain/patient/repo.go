package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists patient anchors.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error)
	// UpdateStatus flips the anchor's status. Returns false when the
	// anchor does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, actor string) (bool, error)
}
