package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CandidateIndex pulls pre-filtered candidate records for scoring.
// The pre-filter is deliberately wide: same family soundex or same
// birth date, everything else is left to the scorer.
type CandidateIndex interface {
	FetchCandidates(ctx context.Context, familySoundex string, birthDate time.Time, limit int) ([]CandidateRecord, error)
}

// LedgerRepository persists the duplicate candidate ledger.
type LedgerRepository interface {
	// Upsert inserts the pair or refreshes score, grade and features on
	// an existing pending row. Terminal rows are never touched.
	Upsert(ctx context.Context, cand *MatchCandidate) error
	GetByID(ctx context.Context, id uuid.UUID) (*MatchCandidate, error)
	GetByPair(ctx context.Context, lo, hi uuid.UUID) (*MatchCandidate, error)
	List(ctx context.Context, status ReviewStatus, limit, offset int) ([]*MatchCandidate, int, error)
	// UpdateReview transitions a pending row to a terminal status.
	// Returns false when the row is missing or already terminal.
	UpdateReview(ctx context.Context, id uuid.UUID, status ReviewStatus, reviewer, note string) (bool, error)
}

// ConfigRepository persists scoring configurations.
type ConfigRepository interface {
	// Active returns the single active configuration, or
	// errs.ErrNotFound when none has been saved yet.
	Active(ctx context.Context) (*AlgorithmConfig, error)
	// Save stores cfg and, when it is active, deactivates every other
	// configuration in the same transaction.
	Save(ctx context.Context, cfg *AlgorithmConfig) error
}
