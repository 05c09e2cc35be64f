package link

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/domain/patient"
	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/errs"
)

// maxChainDepth bounds ancestor walks. A chain this deep means the
// graph is already corrupt; refuse rather than spin.
const maxChainDepth = 32

// PatientDirectory is the slice of the patient domain the link graph
// needs: existence checks and the merged/active status flips.
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status patient.Status, actor string) (bool, error)
}

// linkStripes sizes the fixed lock table that serializes in-process
// link operations. Patients hash onto stripes, so memory stays constant
// however many patients pass through.
const linkStripes = 64

// Service maintains the soft-merge link graph.
type Service struct {
	repo     Repository
	patients PatientDirectory
	runner   db.TxRunner
	auditor  *audit.Emitter
	logger   zerolog.Logger

	// locks serializes link operations per patient stripe so the
	// one-active-edge invariant is not racing itself in-process. The
	// partial unique index backs it across processes.
	locks [linkStripes]sync.Mutex
}

func NewService(repo Repository, patients PatientDirectory, runner db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patients, runner: runner, logger: logger}
}

func (s *Service) SetAuditor(a *audit.Emitter) { s.auditor = a }

func stripeFor(id uuid.UUID) int {
	return int(binary.BigEndian.Uint32(id[:4]) % linkStripes)
}

func (s *Service) lockPatient(id uuid.UUID) func() {
	l := &s.locks[stripeFor(id)]
	l.Lock()
	return l.Unlock
}

// lockPair locks both endpoints of an edge in stripe order, so two
// opposing Link calls cannot both pass the cycle walk before either
// edge lands.
func (s *Service) lockPair(a, b uuid.UUID) func() {
	i, j := stripeFor(a), stripeFor(b)
	if i > j {
		i, j = j, i
	}
	s.locks[i].Lock()
	if j != i {
		s.locks[j].Lock()
	}
	return func() {
		if j != i {
			s.locks[j].Unlock()
		}
		s.locks[i].Unlock()
	}
}

// Link soft-merges child under master. The edge starts proposed unless
// autoConfirm is set (certain-grade matches). The child's anchor flips
// to merged in the same transaction that writes the edge.
//
// RootID and Level are computed from the master's position at creation
// and kept as snapshots afterwards.
func (s *Service) Link(ctx context.Context, masterID, childID uuid.UUID, linkType LinkType, confidence decimal.Decimal, candidateID *uuid.UUID, actor, reason string, autoConfirm bool) (*PatientLink, error) {
	if actor == "" {
		return nil, &errs.ValidationError{Field: "actor", Detail: "required"}
	}
	if linkType == "" {
		linkType = LinkDuplicate
	}
	if !KnownLinkType(linkType) {
		return nil, &errs.ValidationError{Field: "link_type", Detail: "unknown link type"}
	}
	if masterID == childID {
		return nil, &errs.SelfReferenceError{PatientID: childID}
	}

	unlock := s.lockPair(masterID, childID)
	defer unlock()

	master, err := s.patients.GetByID(ctx, masterID)
	if err != nil {
		return nil, err
	}
	if master.Status == patient.StatusDeleted {
		return nil, &errs.InvariantViolation{Detail: "master patient is deleted"}
	}
	child, err := s.patients.GetByID(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child.Status == patient.StatusDeleted {
		return nil, &errs.InvariantViolation{Detail: "child patient is deleted"}
	}
	if child.Merged() {
		return nil, &errs.AlreadyLinkedError{ChildID: childID}
	}
	if _, err := s.repo.ActiveByChild(ctx, childID); err == nil {
		return nil, &errs.AlreadyLinkedError{ChildID: childID}
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	// Reject cycles of any length: linking is forbidden when the child
	// already sits above the master in the chain.
	rootID, level := masterID, 1
	cur := masterID
	for depth := 0; ; depth++ {
		if depth >= maxChainDepth {
			return nil, &errs.InvariantViolation{Detail: "link chain exceeds maximum depth"}
		}
		if cur == childID {
			return nil, &errs.CircularLinkError{MasterID: masterID, ChildID: childID}
		}
		edge, err := s.repo.ActiveByChild(ctx, cur)
		if errors.Is(err, errs.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if cur == masterID {
			rootID = edge.RootID
			level = edge.Level + 1
		}
		cur = edge.MasterID
	}

	status := StatusProposed
	if autoConfirm {
		status = StatusAutoConfirmed
	}
	now := time.Now().UTC()
	l := &PatientLink{
		ID:       uuid.New(),
		MasterID: masterID, ChildID: childID, Type: linkType,
		Status: status, Confidence: confidence, CandidateID: candidateID,
		RootID: rootID, Level: level, Reason: reason,
		CreatedAt: now, CreatedBy: actor, UpdatedAt: now, UpdatedBy: actor,
	}

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, l); err != nil {
			if db.IsUniqueViolation(err) {
				return &errs.AlreadyLinkedError{ChildID: childID}
			}
			return err
		}
		ok, err := s.patients.UpdateStatus(ctx, childID, patient.StatusMerged, actor)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "link.create", Resource: "patient_link",
			Subject: childID.String(), Reason: reason, After: l,
		})
	}
	return l, nil
}

// Approve confirms a proposed edge.
func (s *Service) Approve(ctx context.Context, linkID uuid.UUID, actor string) (*PatientLink, error) {
	ok, err := s.repo.UpdateStatus(ctx, linkID, []Status{StatusProposed}, StatusConfirmed, actor, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		existing, err := s.repo.GetByID(ctx, linkID)
		if err != nil {
			return nil, err
		}
		return nil, &errs.InvariantViolation{Detail: "link is " + string(existing.Status) + ", not proposed"}
	}

	l, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "link.approve", Resource: "patient_link",
			Subject: l.ChildID.String(), After: l,
		})
	}
	return l, nil
}

// Reject discards a proposed edge and restores the child to active.
func (s *Service) Reject(ctx context.Context, linkID uuid.UUID, actor, reason string) (*PatientLink, error) {
	return s.deactivate(ctx, linkID, []Status{StatusProposed}, StatusRejected, actor, reason, "link.reject")
}

// Unlink dissolves an active edge and restores the child to active.
// The child's own descendants are untouched: their edges snapshot
// their root and level at creation.
func (s *Service) Unlink(ctx context.Context, linkID uuid.UUID, actor, reason string) (*PatientLink, error) {
	return s.deactivate(ctx, linkID,
		[]Status{StatusProposed, StatusConfirmed, StatusAutoConfirmed}, StatusUnlinked,
		actor, reason, "link.unlink")
}

func (s *Service) deactivate(ctx context.Context, linkID uuid.UUID, from []Status, to Status, actor, reason, action string) (*PatientLink, error) {
	if actor == "" {
		return nil, &errs.ValidationError{Field: "actor", Detail: "required"}
	}
	l, err := s.repo.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockPatient(l.ChildID)
	defer unlock()

	err = s.runner.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.UpdateStatus(ctx, linkID, from, to, actor, reason)
		if err != nil {
			return err
		}
		if !ok {
			return &errs.InvariantViolation{Detail: "link is not in a state that allows " + string(to)}
		}
		ok, err = s.patients.UpdateStatus(ctx, l.ChildID, patient.StatusActive, actor)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l, err = s.repo.GetByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: action, Resource: "patient_link",
			Subject: l.ChildID.String(), Reason: reason, After: l,
		})
	}
	return l, nil
}

func (s *Service) GetLink(ctx context.Context, linkID uuid.UUID) (*PatientLink, error) {
	return s.repo.GetByID(ctx, linkID)
}

// History returns every edge that ever touched the patient.
func (s *Service) History(ctx context.Context, patientID uuid.UUID) ([]*PatientLink, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// LinkedPatients walks the active graph around the patient: its direct
// master, the master's other children as siblings, and every
// descendant reachable through active edges as children.
func (s *Service) LinkedPatients(ctx context.Context, patientID uuid.UUID) ([]LinkedPatient, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}

	var out []LinkedPatient
	visited := map[uuid.UUID]bool{patientID: true}

	up, err := s.repo.ActiveByChild(ctx, patientID)
	switch {
	case err == nil:
		out = append(out, LinkedPatient{
			PatientID: up.MasterID, Relation: RelationMaster,
			LinkID: up.ID, Level: up.Level, Status: up.Status,
		})
		visited[up.MasterID] = true
		siblings, err := s.repo.ActiveByMaster(ctx, up.MasterID)
		if err != nil {
			return nil, err
		}
		for _, edge := range siblings {
			if visited[edge.ChildID] {
				continue
			}
			visited[edge.ChildID] = true
			out = append(out, LinkedPatient{
				PatientID: edge.ChildID, Relation: RelationSibling,
				LinkID: edge.ID, Level: edge.Level, Status: edge.Status,
			})
		}
	case errors.Is(err, errs.ErrNotFound):
	default:
		return nil, err
	}

	queue := []uuid.UUID{patientID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := s.repo.ActiveByMaster(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if visited[edge.ChildID] {
				continue
			}
			visited[edge.ChildID] = true
			out = append(out, LinkedPatient{
				PatientID: edge.ChildID, Relation: RelationChild,
				LinkID: edge.ID, Level: edge.Level, Status: edge.Status,
			})
			queue = append(queue, edge.ChildID)
		}
	}
	return out, nil
}
