package matching

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/errs"
)

type memIndex struct {
	records []CandidateRecord
}

func (m *memIndex) FetchCandidates(_ context.Context, familySoundex string, birthDate time.Time, limit int) ([]CandidateRecord, error) {
	var out []CandidateRecord
	for _, r := range m.records {
		if r.FamilySoundex == familySoundex || (!birthDate.IsZero() && sameDate(r.BirthDate, birthDate)) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type memLedger struct {
	mu   sync.Mutex
	rows map[[2]uuid.UUID]*MatchCandidate
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[[2]uuid.UUID]*MatchCandidate{}}
}

func (m *memLedger) Upsert(_ context.Context, cand *MatchCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{cand.PatientLo, cand.PatientHi}
	if existing, ok := m.rows[key]; ok {
		if existing.Status == StatusPendingReview {
			existing.Score = cand.Score
			existing.Grade = cand.Grade
			existing.Features = cand.Features
			existing.LastScored = time.Now().UTC()
		}
		return nil
	}
	cp := *cand
	cp.FirstDetected = time.Now().UTC()
	cp.LastScored = cp.FirstDetected
	m.rows[key] = &cp
	return nil
}

func (m *memLedger) GetByID(_ context.Context, id uuid.UUID) (*MatchCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memLedger) GetByPair(_ context.Context, lo, hi uuid.UUID) (*MatchCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[[2]uuid.UUID{lo, hi}]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, errs.ErrNotFound
}

func (m *memLedger) List(_ context.Context, status ReviewStatus, limit, offset int) ([]*MatchCandidate, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*MatchCandidate
	for _, c := range m.rows {
		if c.Status == status {
			cp := *c
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (m *memLedger) UpdateReview(_ context.Context, id uuid.UUID, status ReviewStatus, reviewer, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.ID != id {
			continue
		}
		if c.Status != StatusPendingReview {
			return false, nil
		}
		now := time.Now().UTC()
		c.Status = status
		c.ReviewedBy = reviewer
		c.ReviewedAt = &now
		c.ReviewNote = note
		return true, nil
	}
	return false, nil
}

type memConfigs struct {
	mu     sync.Mutex
	active *AlgorithmConfig
}

func (m *memConfigs) Active(_ context.Context) (*AlgorithmConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, errs.ErrNotFound
	}
	cp := *m.active
	return &cp, nil
}

func (m *memConfigs) Save(_ context.Context, cfg *AlgorithmConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.active = &cp
	return nil
}

type stubSubjects struct {
	queries map[uuid.UUID]Query
}

func (s *stubSubjects) LoadSubject(_ context.Context, patientID uuid.UUID) (Query, error) {
	q, ok := s.queries[patientID]
	if !ok {
		return Query{}, errs.ErrNotFound
	}
	return q, nil
}

func newTestService(index *memIndex, ledger *memLedger, subjects SubjectLoader) *Service {
	if subjects == nil {
		subjects = &stubSubjects{}
	}
	return NewService(index, ledger, &memConfigs{}, subjects, db.NopRunner{}, zerolog.New(os.Stderr))
}

func TestFindMatchesRanksAndFilters(t *testing.T) {
	exact := record("Smith", "Robert", birth1980, "male", "d1")
	phonetic := record("Smyth", "Robert", birth1980, "male")
	familyOnly := record("Smith", "Greg", birth1980, "male")
	unrelated := record("Johnson", "Robert", birth1980.AddDate(0, 6, 0), "female")

	index := &memIndex{records: []CandidateRecord{unrelated, familyOnly, phonetic, exact}}
	svc := newTestService(index, newMemLedger(), nil)

	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male",
		IdentifierDigests: []string{"d1"}}
	results, err := svc.FindMatches(context.Background(), q, uuid.Nil)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results above the floor, got %d", len(results))
	}
	if results[0].PatientID != exact.PatientID || results[0].Grade != GradeCertain {
		t.Errorf("expected exact match first and certain, got %+v", results[0])
	}
	if results[1].PatientID != phonetic.PatientID {
		t.Errorf("expected phonetic variant second, got %+v", results[1])
	}
	if results[2].PatientID != familyOnly.PatientID {
		t.Errorf("expected family-only match third, got %+v", results[2])
	}
}

func TestFindMatchesTieBreaksOnPatientID(t *testing.T) {
	a := record("Smith", "Robert", birth1980, "male")
	b := record("Smith", "Robert", birth1980, "male")
	index := &memIndex{records: []CandidateRecord{a, b}}
	svc := newTestService(index, newMemLedger(), nil)

	q := Query{Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"}
	results, err := svc.FindMatches(context.Background(), q, uuid.Nil)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].PatientID.String() > results[1].PatientID.String() {
		t.Error("equal scores must order by patient id ascending")
	}
}

func TestFindMatchesRequiresUsableQuery(t *testing.T) {
	svc := newTestService(&memIndex{}, newMemLedger(), nil)
	_, err := svc.FindMatches(context.Background(), Query{Given: "Robert"}, uuid.Nil)
	var verr *errs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanPatientRecordsLedgerRows(t *testing.T) {
	subject := uuid.New()
	dup := record("Smyth", "Robert", birth1980, "male")
	self := record("Smith", "Robert", birth1980, "male")
	self.PatientID = subject

	index := &memIndex{records: []CandidateRecord{dup, self}}
	ledger := newMemLedger()
	subjects := &stubSubjects{queries: map[uuid.UUID]Query{
		subject: {Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"},
	}}
	svc := newTestService(index, ledger, subjects)

	results, err := svc.ScanPatient(context.Background(), subject, "steward")
	if err != nil {
		t.Fatalf("ScanPatient: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the subject to be excluded, got %d results", len(results))
	}

	lo, hi := CanonicalPair(subject, dup.PatientID)
	cand, err := ledger.GetByPair(context.Background(), lo, hi)
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}
	if cand.Status != StatusPendingReview {
		t.Errorf("expected pending_review, got %s", cand.Status)
	}
	if !cand.Score.Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("expected score 0.75, got %s", cand.Score)
	}
}

func TestScanPatientRescoresPendingPair(t *testing.T) {
	subject := uuid.New()
	dup := record("Smyth", "Robert", birth1980, "male")

	index := &memIndex{records: []CandidateRecord{dup}}
	ledger := newMemLedger()
	subjects := &stubSubjects{queries: map[uuid.UUID]Query{
		subject: {Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"},
	}}
	svc := newTestService(index, ledger, subjects)

	if _, err := svc.ScanPatient(context.Background(), subject, "steward"); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if _, err := svc.ScanPatient(context.Background(), subject, "steward"); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	pending, total, err := ledger.List(context.Background(), StatusPendingReview, 100, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(pending) != 1 {
		t.Fatalf("expected one ledger row for the pair, got %d", total)
	}
}

func TestReviewStateMachine(t *testing.T) {
	subject := uuid.New()
	dup := record("Smyth", "Robert", birth1980, "male")
	index := &memIndex{records: []CandidateRecord{dup}}
	ledger := newMemLedger()
	subjects := &stubSubjects{queries: map[uuid.UUID]Query{
		subject: {Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"},
	}}
	svc := newTestService(index, ledger, subjects)
	ctx := context.Background()

	if _, err := svc.ScanPatient(ctx, subject, "steward"); err != nil {
		t.Fatalf("ScanPatient: %v", err)
	}
	lo, hi := CanonicalPair(subject, dup.PatientID)
	cand, err := ledger.GetByPair(ctx, lo, hi)
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}

	reviewed, err := svc.Review(ctx, cand.ID, StatusConfirmedDuplicate, "reviewer-1", "same person, typo in family name")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if reviewed.Status != StatusConfirmedDuplicate || reviewed.ReviewedBy != "reviewer-1" {
		t.Errorf("unexpected review result %+v", reviewed)
	}

	// Terminal states stay terminal.
	_, err = svc.Review(ctx, cand.ID, StatusRejected, "reviewer-2", "")
	var inv *errs.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("expected invariant violation on second review, got %v", err)
	}

	// A rescoring scan must not resurrect the resolved pair.
	if _, err := svc.ScanPatient(ctx, subject, "steward"); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	after, err := ledger.GetByPair(ctx, lo, hi)
	if err != nil {
		t.Fatalf("GetByPair after rescan: %v", err)
	}
	if after.Status != StatusConfirmedDuplicate {
		t.Errorf("resolved pair was reopened: %s", after.Status)
	}
}

func TestReviewValidation(t *testing.T) {
	svc := newTestService(&memIndex{}, newMemLedger(), nil)
	ctx := context.Background()

	var verr *errs.ValidationError
	if _, err := svc.Review(ctx, uuid.New(), StatusPendingReview, "reviewer", ""); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for non-terminal status, got %v", err)
	}
	if _, err := svc.Review(ctx, uuid.New(), StatusConfirmedDuplicate, "", ""); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing reviewer, got %v", err)
	}
	if _, err := svc.Review(ctx, uuid.New(), StatusConfirmedDuplicate, "reviewer", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found for unknown candidate, got %v", err)
	}
}

func TestReviewAutoLinkedOutcome(t *testing.T) {
	subject := uuid.New()
	dup := record("Smyth", "Robert", birth1980, "male")
	index := &memIndex{records: []CandidateRecord{dup}}
	ledger := newMemLedger()
	subjects := &stubSubjects{queries: map[uuid.UUID]Query{
		subject: {Family: "Smith", Given: "Robert", BirthDate: birth1980, Sex: "male"},
	}}
	svc := newTestService(index, ledger, subjects)
	ctx := context.Background()

	if _, err := svc.ScanPatient(ctx, subject, "system"); err != nil {
		t.Fatalf("ScanPatient: %v", err)
	}
	lo, hi := CanonicalPair(subject, dup.PatientID)
	cand, err := ledger.GetByPair(ctx, lo, hi)
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}

	resolved, err := svc.Review(ctx, cand.ID, StatusAutoLinked, "system", "above auto-link threshold")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if resolved.Status != StatusAutoLinked {
		t.Errorf("status = %s, want auto_linked", resolved.Status)
	}
}

func TestScanPatientWithoutAttributesYieldsNothing(t *testing.T) {
	subject := uuid.New()
	ledger := newMemLedger()
	subjects := &stubSubjects{queries: map[uuid.UUID]Query{subject: {}}}
	svc := newTestService(&memIndex{}, ledger, subjects)

	results, err := svc.ScanPatient(context.Background(), subject, "steward")
	if err != nil {
		t.Fatalf("ScanPatient: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSaveConfigValidatesThresholds(t *testing.T) {
	svc := newTestService(&memIndex{}, newMemLedger(), nil)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Name = "tuned"
	cfg.ProbableThreshold = decimal.NewFromFloat(0.40)
	cfg.MinConfidence = decimal.NewFromFloat(0.55)
	var verr *errs.ValidationError
	if err := svc.SaveConfig(ctx, cfg, "admin-1"); !errors.As(err, &verr) {
		t.Fatalf("expected threshold ordering error, got %v", err)
	}

	good := DefaultConfig()
	good.Name = "tuned"
	if err := svc.SaveConfig(ctx, good, "admin-1"); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	active := svc.ActiveConfig()
	if active.Name != "tuned" || active.Version != 2 {
		t.Errorf("expected tuned v2 active, got %s v%d", active.Name, active.Version)
	}
}
