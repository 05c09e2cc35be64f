package identifier

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/crypto"
	"github.com/mpi/mpi/internal/platform/errs"
	"github.com/mpi/mpi/internal/platform/temporal"
)

// Service versions external identifiers and answers deterministic
// match queries over their digests.
type Service struct {
	store   *temporal.Store[*Identifier]
	repo    Repository
	hasher  *crypto.Hasher
	enc     *crypto.Encryptor
	auditor *audit.Emitter
}

func NewService(store *temporal.Store[*Identifier], repo Repository, hasher *crypto.Hasher, enc *crypto.Encryptor) *Service {
	return &Service{store: store, repo: repo, hasher: hasher, enc: enc}
}

func (s *Service) SetAuditor(a *audit.Emitter) { s.auditor = a }

// SetIdentifier opens a new current version of the (type, system)
// chain. The raw value is digested for lookup and encrypted at rest.
func (s *Service) SetIdentifier(ctx context.Context, patientID uuid.UUID, idType Type, system, value string, effectiveFrom time.Time, actor string, mustExist bool) (*Identifier, error) {
	if !KnownType(idType) {
		return nil, &errs.ValidationError{Field: "id_type", Detail: "unknown identifier type"}
	}
	system = strings.TrimSpace(system)
	if system == "" {
		return nil, &errs.ValidationError{Field: "system", Detail: "required"}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, &errs.ValidationError{Field: "value", Detail: "required"}
	}

	encrypted, err := s.enc.Encrypt(value)
	if err != nil {
		return nil, err
	}
	ident := &Identifier{
		IDType:         idType,
		System:         system,
		ValueDigest:    s.hasher.Digest(value),
		ValueEncrypted: encrypted,
		Last4:          last4(value),
	}
	ident.PatientID = patientID
	ident.EffectiveFrom = effectiveFrom

	if _, err := s.store.CreateVersion(ctx, ident, actor, mustExist); err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.create", Resource: "patient_identifier",
			Subject: patientID.String(),
			After:   map[string]string{"id_type": string(idType), "system": system, "last4": ident.Last4},
		})
	}
	return ident, nil
}

// MatchByExactIdentifier is the deterministic matcher: it returns
// every patient whose current identifier of the given type and system
// digests to the same value, at confidence 1. Pass exclude to drop a
// known patient (usually the query subject itself) from the result;
// uuid.Nil excludes nothing. More than one hit means a duplicate the
// probabilistic pipeline should review.
func (s *Service) MatchByExactIdentifier(ctx context.Context, idType Type, system, value string, exclude uuid.UUID) ([]Match, error) {
	if !KnownType(idType) {
		return nil, &errs.ValidationError{Field: "id_type", Detail: "unknown identifier type"}
	}
	system = strings.TrimSpace(system)
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, &errs.ValidationError{Field: "value", Detail: "required"}
	}
	ids, err := s.repo.FindPatientsByDigest(ctx, idType, system, s.hasher.Digest(value))
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		matches = append(matches, Match{
			PatientID:  id,
			Confidence: decimal.NewFromInt(1),
			Details:    map[string]string{"id_type": string(idType), "system": system, "method": "exact_digest"},
		})
	}
	return matches, nil
}

// CurrentIdentifiers returns the patient's current identifier versions
// with values masked to their last four characters.
func (s *Service) CurrentIdentifiers(ctx context.Context, patientID uuid.UUID) ([]*Identifier, error) {
	return s.repo.CurrentByPatient(ctx, patientID)
}

func (s *Service) History(ctx context.Context, patientID uuid.UUID, idType Type, system string) ([]*Identifier, error) {
	return s.store.All(ctx, patientID, string(idType)+"/"+system)
}

func (s *Service) DeleteIdentifier(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	ok, err := s.store.SoftDelete(ctx, rowID, actor, reason)
	if err == nil && ok && s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "version.delete", Resource: "patient_identifier",
			Subject: rowID.String(), Reason: reason,
		})
	}
	return ok, err
}

// Reveal decrypts the current identifier value. Every reveal is
// audited with the caller and reason.
func (s *Service) Reveal(ctx context.Context, patientID uuid.UUID, idType Type, system, actor, reason string) (string, error) {
	ident, err := s.store.Current(ctx, patientID, string(idType)+"/"+strings.TrimSpace(system))
	if err != nil {
		return "", err
	}
	value, err := s.enc.Decrypt(ident.ValueEncrypted)
	if err != nil {
		return "", err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "identifier.reveal", Resource: "patient_identifier",
			Subject: patientID.String(), Reason: reason,
			After: map[string]string{"id_type": string(idType), "system": system},
		})
	}
	return value, nil
}

func last4(value string) string {
	clean := strings.ReplaceAll(value, " ", "")
	if len(clean) <= 4 {
		return clean
	}
	return clean[len(clean)-4:]
}
