package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Grade buckets a confidence score for reviewers.
type Grade string

const (
	GradeCertain  Grade = "certain"
	GradeProbable Grade = "probable"
	GradePossible Grade = "possible"
)

// ReviewStatus is the ledger state of a duplicate candidate.
// pending_review is the only non-terminal state. auto_linked records
// that a certain-grade candidate was resolved by the automatic path
// rather than a human reviewer.
type ReviewStatus string

const (
	StatusPendingReview      ReviewStatus = "pending_review"
	StatusConfirmedDuplicate ReviewStatus = "confirmed_duplicate"
	StatusRejected           ReviewStatus = "rejected"
	StatusAutoLinked         ReviewStatus = "auto_linked"
)

// Terminal reports whether the status ends the candidate's lifecycle.
func (s ReviewStatus) Terminal() bool {
	return s == StatusConfirmedDuplicate || s == StatusRejected || s == StatusAutoLinked
}

// AlgorithmConfig is the active scoring configuration. Weights are
// fixed-precision decimals so a config survives storage and reload
// without float drift changing anyone's grade.
type AlgorithmConfig struct {
	ID      uuid.UUID `db:"id" json:"id"`
	Name    string    `db:"name" json:"name"`
	Version int       `db:"version" json:"version"`

	// Name agreement, best match wins: both metaphones, family
	// metaphone only, family soundex only, or scaled edit distance.
	WeightNameFull     decimal.Decimal `db:"weight_name_full" json:"weight_name_full"`
	WeightNameFamily   decimal.Decimal `db:"weight_name_family" json:"weight_name_family"`
	WeightNamePhonetic decimal.Decimal `db:"weight_name_phonetic" json:"weight_name_phonetic"`
	WeightNameFuzzy    decimal.Decimal `db:"weight_name_fuzzy" json:"weight_name_fuzzy"`

	WeightBirthExact decimal.Decimal `db:"weight_birth_exact" json:"weight_birth_exact"`
	WeightBirthNear  decimal.Decimal `db:"weight_birth_near" json:"weight_birth_near"`
	WeightSex        decimal.Decimal `db:"weight_sex" json:"weight_sex"`
	WeightIdentifier decimal.Decimal `db:"weight_identifier" json:"weight_identifier"`

	// MinConfidence drops candidates below it. AutoLinkThreshold marks
	// the certain grade; probable and possible sit below it.
	MinConfidence     decimal.Decimal `db:"min_confidence" json:"min_confidence"`
	AutoLinkThreshold decimal.Decimal `db:"auto_link_threshold" json:"auto_link_threshold"`
	ProbableThreshold decimal.Decimal `db:"probable_threshold" json:"probable_threshold"`

	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	CreatedBy string    `db:"created_by" json:"created_by"`
}

// DefaultConfig is the shipped scoring configuration.
func DefaultConfig() *AlgorithmConfig {
	return &AlgorithmConfig{
		Name:    "default",
		Version: 1,

		WeightNameFull:     decimal.NewFromFloat(0.35),
		WeightNameFamily:   decimal.NewFromFloat(0.25),
		WeightNamePhonetic: decimal.NewFromFloat(0.20),
		WeightNameFuzzy:    decimal.NewFromFloat(0.10),

		WeightBirthExact: decimal.NewFromFloat(0.30),
		WeightBirthNear:  decimal.NewFromFloat(0.10),
		WeightSex:        decimal.NewFromFloat(0.10),
		WeightIdentifier: decimal.NewFromFloat(0.25),

		MinConfidence:     decimal.NewFromFloat(0.55),
		AutoLinkThreshold: decimal.NewFromFloat(0.95),
		ProbableThreshold: decimal.NewFromFloat(0.80),

		Active: true,
	}
}

// GradeFor buckets a score under this configuration.
func (c *AlgorithmConfig) GradeFor(score decimal.Decimal) Grade {
	switch {
	case score.GreaterThanOrEqual(c.AutoLinkThreshold):
		return GradeCertain
	case score.GreaterThanOrEqual(c.ProbableThreshold):
		return GradeProbable
	default:
		return GradePossible
	}
}

// MatchCandidate is one row of the duplicate candidate ledger. The
// patient pair is stored canonically (PatientLo < PatientHi as uuid
// strings) so the same pair found in either direction lands on the
// same row.
type MatchCandidate struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PatientLo uuid.UUID       `db:"patient_lo" json:"patient_lo"`
	PatientHi uuid.UUID       `db:"patient_hi" json:"patient_hi"`
	Score     decimal.Decimal `db:"score" json:"score"`
	Grade     Grade           `db:"grade" json:"grade"`
	Status    ReviewStatus    `db:"status" json:"status"`
	// Features records which comparators fired, for reviewer display.
	Features       map[string]string `db:"features" json:"features"`
	AlgorithmName  string            `db:"algorithm_name" json:"algorithm_name"`
	AlgorithmVer   int               `db:"algorithm_version" json:"algorithm_version"`
	ReviewedBy     string            `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote     string            `db:"review_note" json:"review_note,omitempty"`
	FirstDetected  time.Time         `db:"first_detected" json:"first_detected"`
	LastScored     time.Time         `db:"last_scored" json:"last_scored"`
	// ExpiresAt lets review queues age out stale pending pairs. The
	// row itself is never deleted.
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// CanonicalPair orders two patient ids into (lo, hi).
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// MatchResult is one scored hit returned to a caller.
type MatchResult struct {
	PatientID uuid.UUID         `json:"patient_id"`
	Score     decimal.Decimal   `json:"score"`
	Grade     Grade             `json:"grade"`
	Features  map[string]string `json:"features"`
}
