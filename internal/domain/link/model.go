package link

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LinkType records why the edge exists. Duplicate covers entity
// resolution; the other kinds cover registrar-driven associations.
type LinkType string

const (
	LinkDuplicate    LinkType = "duplicate"
	LinkAlias        LinkType = "alias"
	LinkMerged       LinkType = "merged"
	LinkSplit        LinkType = "split"
	LinkFamilyMember LinkType = "family_member"
)

// KnownLinkType reports whether t is a supported link type.
func KnownLinkType(t LinkType) bool {
	switch t {
	case LinkDuplicate, LinkAlias, LinkMerged, LinkSplit, LinkFamilyMember:
		return true
	}
	return false
}

// Status is the lifecycle state of a link edge. Proposed, confirmed and
// auto_confirmed edges are active: the child is soft-merged under the
// master for as long as one exists. Rejected and unlinked are terminal
// for the edge, never for the patients.
type Status string

const (
	StatusProposed      Status = "proposed"
	StatusConfirmed     Status = "confirmed"
	StatusAutoConfirmed Status = "auto_confirmed"
	StatusRejected      Status = "rejected"
	StatusUnlinked      Status = "unlinked"
)

// Active reports whether the status holds the child merged.
func (s Status) Active() bool {
	return s == StatusProposed || s == StatusConfirmed || s == StatusAutoConfirmed
}

// PatientLink is one directed edge of the link graph: child soft-merged
// under master. RootID and Level are snapshots taken when the edge is
// created; later restructuring above the master does not rewrite them.
type PatientLink struct {
	ID       uuid.UUID `db:"id" json:"id"`
	MasterID uuid.UUID `db:"master_id" json:"master_id"`
	ChildID  uuid.UUID `db:"child_id" json:"child_id"`
	Type     LinkType  `db:"link_type" json:"link_type"`
	Status   Status    `db:"status" json:"status"`
	// Confidence is the match score that motivated the edge.
	Confidence decimal.Decimal `db:"confidence" json:"confidence"`
	// CandidateID points at the ledger row behind the edge, when one
	// exists. Manually created edges carry none.
	CandidateID *uuid.UUID `db:"candidate_id" json:"candidate_id,omitempty"`
	RootID      uuid.UUID  `db:"root_id" json:"root_id"`
	Level       int        `db:"level" json:"level"`
	Reason      string     `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	UpdatedBy   string     `db:"updated_by" json:"updated_by"`
}

// Relation labels one entry of a linked-patients traversal.
type Relation string

const (
	RelationMaster  Relation = "master"
	RelationChild   Relation = "child"
	RelationSibling Relation = "sibling"
)

// LinkedPatient is one patient reachable through active edges. Level
// and Status come from the edge that put the patient in the traversal:
// the upward edge for the master, their own edge for siblings and
// children.
type LinkedPatient struct {
	PatientID uuid.UUID `json:"patient_id"`
	Relation  Relation  `json:"relation"`
	LinkID    uuid.UUID `json:"link_id"`
	Level     int       `json:"level"`
	Status    Status    `json:"status"`
}
