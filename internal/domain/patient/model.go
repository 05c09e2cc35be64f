package patient

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a patient anchor.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	// StatusMerged means the patient is soft-merged under a master via
	// an active link. Only the linking workflow sets or clears it.
	StatusMerged  Status = "merged"
	StatusDeleted Status = "deleted"
	// StatusError quarantines a record flagged by data-quality review.
	StatusError Status = "error"
)

// Patient is the immutable anchor every versioned attribute, match
// candidate, and link edge hangs off. The birth facts recorded at
// registration never change; corrections land in the versioned
// demographics table, which matching reads.
type Patient struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Status        Status     `db:"status" json:"status"`
	BirthDate     *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Sex           string     `db:"sex" json:"sex"`
	MultipleBirth bool       `db:"multiple_birth" json:"multiple_birth"`
	// BirthOrder is the position within a multiple birth, 0 when
	// unknown or not applicable.
	BirthOrder   int        `db:"birth_order" json:"birth_order,omitempty"`
	Deceased     bool       `db:"deceased" json:"deceased"`
	DeceasedAt   *time.Time `db:"deceased_at" json:"deceased_at,omitempty"`
	SourceSystem string     `db:"source_system" json:"source_system,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	UpdatedBy    string     `db:"updated_by" json:"updated_by"`
}

// Merged reports whether the patient is currently soft-merged.
func (p *Patient) Merged() bool { return p.Status == StatusMerged }

// validTransitions holds the manual status transitions. Transitions in
// and out of merged are owned by the linking workflow and absent here.
var validTransitions = map[Status]map[Status]bool{
	StatusActive:   {StatusInactive: true, StatusDeleted: true, StatusError: true},
	StatusInactive: {StatusActive: true, StatusDeleted: true, StatusError: true},
	StatusError:    {StatusActive: true, StatusInactive: true, StatusDeleted: true},
	StatusMerged:   {},
	StatusDeleted:  {},
}

// CanTransition reports whether a manual status change is allowed.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

func knownSex(s string) bool {
	switch s {
	case "male", "female", "other", "unknown":
		return true
	}
	return false
}
