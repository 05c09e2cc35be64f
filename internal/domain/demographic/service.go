package demographic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/errs"
	"github.com/mpi/mpi/internal/platform/temporal"
)

// Service versions patient names and core demographics.
type Service struct {
	names   *temporal.Store[*PatientName]
	demos   *temporal.Store[*Demographics]
	auditor *audit.Emitter
}

func NewService(names *temporal.Store[*PatientName], demos *temporal.Store[*Demographics]) *Service {
	return &Service{names: names, demos: demos}
}

func (s *Service) SetAuditor(a *audit.Emitter) { s.auditor = a }

var allNameTypes = []NameType{NameOfficial, NameUsual, NameMaiden, NameAlias}

// SetName opens a new current version of one name chain. The phonetic
// columns are recomputed here so they can never drift from the name.
func (s *Service) SetName(ctx context.Context, n *PatientName, actor string, mustExist bool) (uuid.UUID, error) {
	if !KnownNameType(n.NameType) {
		return uuid.Nil, &errs.ValidationError{Field: "name_type", Detail: "unknown name type"}
	}
	n.Family = strings.TrimSpace(n.Family)
	n.Given = strings.TrimSpace(n.Given)
	if n.Family == "" && n.Given == "" {
		return uuid.Nil, &errs.ValidationError{Field: "family", Detail: "family or given name required"}
	}
	n.ComputePhonetics()

	id, err := s.names.CreateVersion(ctx, n, actor, mustExist)
	if err != nil {
		return uuid.Nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.create", Resource: "patient_name",
			Subject: n.PatientID.String(), After: n,
		})
	}
	return id, nil
}

func (s *Service) CurrentName(ctx context.Context, patientID uuid.UUID, t NameType) (*PatientName, error) {
	return s.names.Current(ctx, patientID, string(t))
}

// CurrentNames collects the current version of every name chain the
// patient has.
func (s *Service) CurrentNames(ctx context.Context, patientID uuid.UUID) ([]*PatientName, error) {
	var out []*PatientName
	for _, t := range allNameTypes {
		n, err := s.names.Current(ctx, patientID, string(t))
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Service) NameAt(ctx context.Context, patientID uuid.UUID, t NameType, ts time.Time) (*PatientName, error) {
	return s.names.At(ctx, patientID, string(t), ts)
}

func (s *Service) NameHistory(ctx context.Context, patientID uuid.UUID, t NameType) ([]*PatientName, error) {
	return s.names.All(ctx, patientID, string(t))
}

func (s *Service) DeleteName(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	ok, err := s.names.SoftDelete(ctx, rowID, actor, reason)
	if err == nil && ok && s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.delete", Resource: "patient_name",
			Subject: rowID.String(), Reason: reason,
		})
	}
	return ok, err
}

// ValidateNameChain reports gaps and overlaps in one name chain.
func (s *Service) ValidateNameChain(ctx context.Context, patientID uuid.UUID, t NameType) ([]temporal.Finding, error) {
	return s.names.ValidateConsistency(ctx, patientID, string(t))
}

// SetDemographics opens a new current demographics version.
func (s *Service) SetDemographics(ctx context.Context, d *Demographics, actor string, mustExist bool) (uuid.UUID, error) {
	if d.BirthDate.IsZero() {
		return uuid.Nil, &errs.ValidationError{Field: "birth_date", Detail: "required"}
	}
	if d.BirthDate.After(time.Now().UTC()) {
		return uuid.Nil, &errs.ValidationError{Field: "birth_date", Detail: "in the future"}
	}
	if d.Sex == "" {
		d.Sex = SexUnknown
	}
	if !KnownSex(d.Sex) {
		return uuid.Nil, &errs.ValidationError{Field: "sex", Detail: "unknown sex code"}
	}
	if d.DeceasedAt != nil && d.DeceasedAt.Before(d.BirthDate) {
		return uuid.Nil, &errs.ValidationError{Field: "deceased_at", Detail: "precedes birth date"}
	}

	id, err := s.demos.CreateVersion(ctx, d, actor, mustExist)
	if err != nil {
		return uuid.Nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.create", Resource: "patient_demographics",
			Subject: d.PatientID.String(), After: d,
		})
	}
	return id, nil
}

func (s *Service) CurrentDemographics(ctx context.Context, patientID uuid.UUID) (*Demographics, error) {
	return s.demos.Current(ctx, patientID, "")
}

func (s *Service) DemographicsAt(ctx context.Context, patientID uuid.UUID, ts time.Time) (*Demographics, error) {
	return s.demos.At(ctx, patientID, "", ts)
}

func (s *Service) DemographicsHistory(ctx context.Context, patientID uuid.UUID) ([]*Demographics, error) {
	return s.demos.All(ctx, patientID, "")
}

func (s *Service) DeleteDemographics(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	ok, err := s.demos.SoftDelete(ctx, rowID, actor, reason)
	if err == nil && ok && s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.delete", Resource: "patient_demographics",
			Subject: rowID.String(), Reason: reason,
		})
	}
	return ok, err
}

// ValidateDemographics reports gaps and overlaps in the demographics
// chain.
func (s *Service) ValidateDemographics(ctx context.Context, patientID uuid.UUID) ([]temporal.Finding, error) {
	return s.demos.ValidateConsistency(ctx, patientID, "")
}
