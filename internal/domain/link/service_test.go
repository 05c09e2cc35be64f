package link

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/domain/patient"
	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/errs"
)

type memRepo struct {
	mu    sync.Mutex
	links map[uuid.UUID]*PatientLink
}

func newMemRepo() *memRepo {
	return &memRepo{links: map[uuid.UUID]*PatientLink{}}
}

func (r *memRepo) Insert(_ context.Context, l *PatientLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.links[l.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*PatientLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memRepo) ActiveByChild(_ context.Context, childID uuid.UUID) (*PatientLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ChildID == childID && l.Status.Active() {
			cp := *l
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *memRepo) ActiveByMaster(_ context.Context, masterID uuid.UUID) ([]*PatientLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*PatientLink
	for _, l := range r.links {
		if l.MasterID == masterID && l.Status.Active() {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChildID.String() < out[j].ChildID.String()
	})
	return out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from []Status, to Status, actor, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if l.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	l.Status = to
	l.UpdatedBy = actor
	l.UpdatedAt = time.Now().UTC()
	if reason != "" {
		l.Reason = reason
	}
	return true, nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*PatientLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*PatientLink
	for _, l := range r.links {
		if l.MasterID == patientID || l.ChildID == patientID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memPatients struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*patient.Patient
}

func newMemPatients(ids ...uuid.UUID) *memPatients {
	m := &memPatients{byID: map[uuid.UUID]*patient.Patient{}}
	for _, id := range ids {
		m.byID[id] = &patient.Patient{ID: id, Status: patient.StatusActive}
	}
	return m
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPatients) UpdateStatus(_ context.Context, id uuid.UUID, status patient.Status, actor string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	p.Status = status
	p.UpdatedBy = actor
	return true, nil
}

func (m *memPatients) status(id uuid.UUID) patient.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

func newTestService(patients *memPatients) (*Service, *memRepo) {
	repo := newMemRepo()
	svc := NewService(repo, patients, db.NopRunner{}, zerolog.Nop())
	return svc, repo
}

func TestLinkCreatesProposedEdgeAndMergesChild(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	patients := newMemPatients(master, child)
	svc, _ := newTestService(patients)

	l, err := svc.Link(context.Background(), master, child, LinkDuplicate, decimal.RequireFromString("0.85"), nil, "steward-1", "probable match", false)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if l.Status != StatusProposed {
		t.Errorf("status = %s, want proposed", l.Status)
	}
	if l.Type != LinkDuplicate {
		t.Errorf("type = %s, want duplicate", l.Type)
	}
	if l.RootID != master || l.Level != 1 {
		t.Errorf("root/level = %s/%d, want %s/1", l.RootID, l.Level, master)
	}
	if got := patients.status(child); got != patient.StatusMerged {
		t.Errorf("child status = %s, want merged", got)
	}
	if got := patients.status(master); got != patient.StatusActive {
		t.Errorf("master status = %s, want active", got)
	}
}

func TestLinkAutoConfirm(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(master, child))

	candID := uuid.New()
	l, err := svc.Link(context.Background(), master, child, LinkDuplicate, decimal.RequireFromString("0.97"), &candID, "system", "", true)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if l.Status != StatusAutoConfirmed {
		t.Errorf("status = %s, want auto_confirmed", l.Status)
	}
	if l.CandidateID == nil || *l.CandidateID != candID {
		t.Errorf("candidate id not carried")
	}
}

func TestLinkRejectsSelfReference(t *testing.T) {
	id := uuid.New()
	svc, _ := newTestService(newMemPatients(id))

	_, err := svc.Link(context.Background(), id, id, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	var selfErr *errs.SelfReferenceError
	if !errors.As(err, &selfErr) {
		t.Fatalf("err = %v, want SelfReferenceError", err)
	}
}

func TestLinkRejectsAlreadyLinkedChild(t *testing.T) {
	master, other, child := uuid.New(), uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(master, other, child))

	if _, err := svc.Link(context.Background(), master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("first Link: %v", err)
	}
	_, err := svc.Link(context.Background(), other, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	var linkedErr *errs.AlreadyLinkedError
	if !errors.As(err, &linkedErr) {
		t.Fatalf("err = %v, want AlreadyLinkedError", err)
	}
	if linkedErr.ChildID != child {
		t.Errorf("ChildID = %s, want %s", linkedErr.ChildID, child)
	}
}

func TestLinkRejectsCycle(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(a, b, c))
	ctx := context.Background()

	if _, err := svc.Link(ctx, a, b, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("a<-b: %v", err)
	}
	if _, err := svc.Link(ctx, b, c, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("b<-c: %v", err)
	}

	// c is two levels below a; pulling a under c would close the loop.
	_, err := svc.Link(ctx, c, a, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	var cycleErr *errs.CircularLinkError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("err = %v, want CircularLinkError", err)
	}
}

func TestLinkInheritsRootAndLevel(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(a, b, c))
	ctx := context.Background()

	if _, err := svc.Link(ctx, a, b, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("a<-b: %v", err)
	}
	l, err := svc.Link(ctx, b, c, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if err != nil {
		t.Fatalf("b<-c: %v", err)
	}
	if l.RootID != a {
		t.Errorf("root = %s, want %s", l.RootID, a)
	}
	if l.Level != 2 {
		t.Errorf("level = %d, want 2", l.Level)
	}
}

func TestLinkRejectsDeletedPatients(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	patients := newMemPatients(master, child)
	svc, _ := newTestService(patients)
	ctx := context.Background()

	patients.byID[master].Status = patient.StatusDeleted
	_, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	var inv *errs.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("deleted master: err = %v, want InvariantViolation", err)
	}

	patients.byID[master].Status = patient.StatusActive
	patients.byID[child].Status = patient.StatusDeleted
	_, err = svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if !errors.As(err, &inv) {
		t.Fatalf("deleted child: err = %v, want InvariantViolation", err)
	}
}

func TestApproveConfirmsProposedOnce(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(master, child))
	ctx := context.Background()

	l, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	approved, err := svc.Approve(ctx, l.ID, "steward-2")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", approved.Status)
	}

	_, err = svc.Approve(ctx, l.ID, "steward-2")
	var inv *errs.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("second approve: err = %v, want InvariantViolation", err)
	}
}

func TestRejectRestoresChild(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	patients := newMemPatients(master, child)
	svc, _ := newTestService(patients)
	ctx := context.Background()

	l, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	rejected, err := svc.Reject(ctx, l.ID, "steward-2", "different people")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}
	if rejected.Reason != "different people" {
		t.Errorf("reason = %q", rejected.Reason)
	}
	if got := patients.status(child); got != patient.StatusActive {
		t.Errorf("child status = %s, want active", got)
	}

	// The rejected edge no longer blocks a fresh link.
	if _, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("relink after reject: %v", err)
	}
}

func TestUnlinkDissolvesConfirmedEdge(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	patients := newMemPatients(master, child)
	svc, _ := newTestService(patients)
	ctx := context.Background()

	l, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := svc.Approve(ctx, l.ID, "steward-2"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	unlinked, err := svc.Unlink(ctx, l.ID, "admin-1", "merged in error")
	if err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if unlinked.Status != StatusUnlinked {
		t.Errorf("status = %s, want unlinked", unlinked.Status)
	}
	if got := patients.status(child); got != patient.StatusActive {
		t.Errorf("child status = %s, want active", got)
	}

	_, err = svc.Unlink(ctx, l.ID, "admin-1", "")
	var inv *errs.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("second unlink: err = %v, want InvariantViolation", err)
	}
}

func TestRejectRequiresProposed(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(master, child))
	ctx := context.Background()

	l, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := svc.Approve(ctx, l.ID, "steward-2"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, err = svc.Reject(ctx, l.ID, "steward-2", "")
	var inv *errs.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("reject confirmed: err = %v, want InvariantViolation", err)
	}
}

func TestResolveUnknownLink(t *testing.T) {
	svc, _ := newTestService(newMemPatients())
	_, err := svc.Approve(context.Background(), uuid.New(), "steward-1")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = svc.Unlink(context.Background(), uuid.New(), "steward-1", "")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLinkedPatientsRelations(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(a, b, c, d))
	ctx := context.Background()

	// a <- b, a <- c, b <- d
	if _, err := svc.Link(ctx, a, b, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("a<-b: %v", err)
	}
	if _, err := svc.Link(ctx, a, c, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("a<-c: %v", err)
	}
	if _, err := svc.Link(ctx, b, d, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("b<-d: %v", err)
	}

	linked := func(id uuid.UUID) map[uuid.UUID]LinkedPatient {
		items, err := svc.LinkedPatients(ctx, id)
		if err != nil {
			t.Fatalf("LinkedPatients(%s): %v", id, err)
		}
		out := map[uuid.UUID]LinkedPatient{}
		for _, lp := range items {
			out[lp.PatientID] = lp
		}
		return out
	}

	fromB := linked(b)
	if fromB[a].Relation != RelationMaster {
		t.Errorf("b->a relation = %s, want master", fromB[a].Relation)
	}
	if fromB[c].Relation != RelationSibling {
		t.Errorf("b->c relation = %s, want sibling", fromB[c].Relation)
	}
	if fromB[d].Relation != RelationChild {
		t.Errorf("b->d relation = %s, want child", fromB[d].Relation)
	}
	// Every entry carries the backing edge's depth and lifecycle state.
	if fromB[a].Level != 1 || fromB[c].Level != 1 || fromB[d].Level != 2 {
		t.Errorf("levels = a:%d c:%d d:%d, want 1/1/2", fromB[a].Level, fromB[c].Level, fromB[d].Level)
	}
	for id, lp := range fromB {
		if lp.Status != StatusProposed {
			t.Errorf("%s status = %s, want proposed", id, lp.Status)
		}
	}

	fromA := linked(a)
	if fromA[b].Relation != RelationChild || fromA[c].Relation != RelationChild || fromA[d].Relation != RelationChild {
		t.Errorf("a relations = %v, want all children", fromA)
	}
	if len(fromA) != 3 {
		t.Errorf("a linked count = %d, want 3", len(fromA))
	}
	if fromA[d].Level != 2 {
		t.Errorf("a->d level = %d, want 2", fromA[d].Level)
	}
}

func TestConcurrentOpposingLinksCannotCycle(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	svc, repo := newTestService(newMemPatients(x, y))
	ctx := context.Background()

	var wg sync.WaitGroup
	errsCh := make(chan error, 2)
	start := make(chan struct{})
	for _, pair := range [][2]uuid.UUID{{x, y}, {y, x}} {
		wg.Add(1)
		go func(master, child uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
			errsCh <- err
		}(pair[0], pair[1])
	}
	close(start)
	wg.Wait()
	close(errsCh)

	var failures int
	for err := range errsCh {
		if err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("got %d failed links, want exactly 1", failures)
	}

	// Whichever edge won, the opposing one must not also be active.
	_, errXY := repo.ActiveByChild(ctx, y)
	_, errYX := repo.ActiveByChild(ctx, x)
	if errXY == nil && errYX == nil {
		t.Fatal("both opposing edges are active: two-node cycle")
	}
}

func TestHistoryIncludesTerminalEdges(t *testing.T) {
	master, child := uuid.New(), uuid.New()
	svc, _ := newTestService(newMemPatients(master, child))
	ctx := context.Background()

	l, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := svc.Reject(ctx, l.ID, "steward-2", "no"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := svc.Link(ctx, master, child, LinkDuplicate, decimal.Zero, nil, "steward-1", "", false); err != nil {
		t.Fatalf("relink: %v", err)
	}

	hist, err := svc.History(ctx, child)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
}
