package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/errs"
)

type Service struct {
	repo    Repository
	auditor *audit.Emitter
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) SetAuditor(a *audit.Emitter) { s.auditor = a }

// CreatePatient registers a new anchor. New patients start active
// unless the caller quarantines them on arrival.
func (s *Service) CreatePatient(ctx context.Context, p *Patient, actor string) error {
	if actor == "" {
		return &errs.ValidationError{Field: "actor", Detail: "required"}
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Status != StatusActive && p.Status != StatusError {
		return &errs.ValidationError{Field: "status", Detail: "new patients start active or error"}
	}
	if p.Sex == "" {
		p.Sex = "unknown"
	}
	if !knownSex(p.Sex) {
		return &errs.ValidationError{Field: "sex", Detail: "unknown sex code"}
	}
	if p.BirthOrder < 0 {
		return &errs.ValidationError{Field: "birth_order", Detail: "must not be negative"}
	}
	if p.BirthOrder > 0 {
		p.MultipleBirth = true
	}
	if p.DeceasedAt != nil {
		p.Deceased = true
	}

	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.CreatedBy = actor
	p.UpdatedAt = now
	p.UpdatedBy = actor
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "patient.create", Resource: "patient",
			Subject: p.ID.String(), After: p,
		})
	}
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, status Status, limit, offset int) ([]*Patient, int, error) {
	if status != "" && !knownStatus(status) {
		return nil, 0, &errs.ValidationError{Field: "status", Detail: "unknown status"}
	}
	return s.repo.List(ctx, status, limit, offset)
}

// UpdateStatus performs a manual lifecycle transition. Merged is
// reserved for the linking workflow: requests into or out of it are
// rejected here.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, actor string) (*Patient, error) {
	if actor == "" {
		return nil, &errs.ValidationError{Field: "actor", Detail: "required"}
	}
	if !knownStatus(to) {
		return nil, &errs.ValidationError{Field: "status", Detail: "unknown status"}
	}
	if to == StatusMerged {
		return nil, &errs.InvariantViolation{Detail: "merged status is set by the linking workflow"}
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == to {
		return p, nil
	}
	if !CanTransition(p.Status, to) {
		return nil, &errs.InvariantViolation{
			Detail: "status transition " + string(p.Status) + " -> " + string(to) + " not allowed",
		}
	}

	before := *p
	ok, err := s.repo.UpdateStatus(ctx, id, to, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	p.Status = to
	p.UpdatedBy = actor
	p.UpdatedAt = time.Now().UTC()

	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "patient.status", Resource: "patient",
			Subject: id.String(), Before: before, After: p,
		})
	}
	return p, nil
}

func knownStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInactive, StatusMerged, StatusDeleted, StatusError:
		return true
	}
	return false
}
