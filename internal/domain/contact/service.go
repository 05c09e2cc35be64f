package contact

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/errs"
	"github.com/mpi/mpi/internal/platform/temporal"
)

// Service versions patient contact points and addresses.
type Service struct {
	points    *temporal.Store[*ContactPoint]
	addresses *temporal.Store[*Address]
	auditor   *audit.Emitter
}

func NewService(points *temporal.Store[*ContactPoint], addresses *temporal.Store[*Address]) *Service {
	return &Service{points: points, addresses: addresses}
}

func (s *Service) SetAuditor(a *audit.Emitter) { s.auditor = a }

// SetContactPoint opens a new current version of the (kind, use) chain.
func (s *Service) SetContactPoint(ctx context.Context, p *ContactPoint, actor string, mustExist bool) (uuid.UUID, error) {
	if !KnownKind(p.Kind) {
		return uuid.Nil, &errs.ValidationError{Field: "kind", Detail: "unknown contact kind"}
	}
	if !KnownUse(p.Use) {
		return uuid.Nil, &errs.ValidationError{Field: "use", Detail: "unknown use"}
	}
	p.Value = strings.TrimSpace(p.Value)
	if p.Value == "" {
		return uuid.Nil, &errs.ValidationError{Field: "value", Detail: "required"}
	}
	if p.Kind == KindEmail {
		if _, err := mail.ParseAddress(p.Value); err != nil {
			return uuid.Nil, &errs.ValidationError{Field: "value", Detail: "not a valid email address"}
		}
	}

	id, err := s.points.CreateVersion(ctx, p, actor, mustExist)
	if err != nil {
		return uuid.Nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.create", Resource: "patient_contact_point",
			Subject: p.PatientID.String(), After: p,
		})
	}
	return id, nil
}

func (s *Service) CurrentContactPoint(ctx context.Context, patientID uuid.UUID, kind Kind, use Use) (*ContactPoint, error) {
	return s.points.Current(ctx, patientID, string(kind)+"/"+string(use))
}

func (s *Service) ContactPointAt(ctx context.Context, patientID uuid.UUID, kind Kind, use Use, ts time.Time) (*ContactPoint, error) {
	return s.points.At(ctx, patientID, string(kind)+"/"+string(use), ts)
}

func (s *Service) ContactPointHistory(ctx context.Context, patientID uuid.UUID, kind Kind, use Use) ([]*ContactPoint, error) {
	return s.points.All(ctx, patientID, string(kind)+"/"+string(use))
}

func (s *Service) DeleteContactPoint(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	return s.points.SoftDelete(ctx, rowID, actor, reason)
}

// SetAddress opens a new current version of the address chain for use.
func (s *Service) SetAddress(ctx context.Context, a *Address, actor string, mustExist bool) (uuid.UUID, error) {
	if !KnownUse(a.Use) {
		return uuid.Nil, &errs.ValidationError{Field: "use", Detail: "unknown use"}
	}
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.Country = strings.TrimSpace(a.Country)
	if a.Line1 == "" || a.City == "" || a.Country == "" {
		return uuid.Nil, &errs.ValidationError{Field: "address", Detail: "line1, city and country required"}
	}

	id, err := s.addresses.CreateVersion(ctx, a, actor, mustExist)
	if err != nil {
		return uuid.Nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.create", Resource: "patient_address",
			Subject: a.PatientID.String(), After: a,
		})
	}
	return id, nil
}

func (s *Service) CurrentAddress(ctx context.Context, patientID uuid.UUID, use Use) (*Address, error) {
	return s.addresses.Current(ctx, patientID, string(use))
}

func (s *Service) AddressAt(ctx context.Context, patientID uuid.UUID, use Use, ts time.Time) (*Address, error) {
	return s.addresses.At(ctx, patientID, string(use), ts)
}

func (s *Service) AddressHistory(ctx context.Context, patientID uuid.UUID, use Use) ([]*Address, error) {
	return s.addresses.All(ctx, patientID, string(use))
}

func (s *Service) DeleteAddress(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	return s.addresses.SoftDelete(ctx, rowID, actor, reason)
}
