package identifier

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/temporal"
)

// Type classifies an identifier chain.
type Type string

const (
	TypeGovernmentID Type = "government_id"
	TypeInsuranceID  Type = "insurance_id"
	TypeMRN          Type = "mrn"
)

// KnownType reports whether t is a supported identifier type.
func KnownType(t Type) bool {
	switch t {
	case TypeGovernmentID, TypeInsuranceID, TypeMRN:
		return true
	}
	return false
}

// Identifier is one time-sliced version of an external identifier. The
// raw value never lands in a queryable column: lookups run against the
// keyed HMAC digest, and the value itself is stored encrypted for
// break-glass retrieval only.
type Identifier struct {
	temporal.VersionMeta
	IDType Type `db:"id_type" json:"id_type"`
	// System scopes the identifier: issuing country for government
	// IDs, payer for insurance IDs, facility for MRNs.
	System         string `db:"system" json:"system"`
	ValueDigest    string `db:"value_digest" json:"-"`
	ValueEncrypted string `db:"value_encrypted" json:"-"`
	Last4          string `db:"last4" json:"last4"`
}

func (i *Identifier) Meta() *temporal.VersionMeta { return &i.VersionMeta }
func (i *Identifier) SubKey() string              { return string(i.IDType) + "/" + i.System }

// Match is one deterministic hit from a digest lookup. An exact digest
// match either holds or it does not, so Confidence is always 1; it is
// carried so deterministic and probabilistic results share a shape.
type Match struct {
	PatientID  uuid.UUID         `json:"patient_id"`
	Confidence decimal.Decimal   `json:"confidence"`
	Details    map[string]string `json:"details"`
}
