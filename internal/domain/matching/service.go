package matching

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/errs"
	"github.com/mpi/mpi/internal/platform/phonetics"
)

const (
	// prefilterLimit bounds how many indexed records one scan pulls.
	prefilterLimit = 1000
	// maxResults caps the scored hits returned or recorded per scan.
	maxResults = 100
)

// SubjectLoader builds a match query from a stored patient's current
// attributes.
type SubjectLoader interface {
	LoadSubject(ctx context.Context, patientID uuid.UUID) (Query, error)
}

// Service runs probabilistic matching and keeps the duplicate
// candidate ledger.
type Service struct {
	index    CandidateIndex
	ledger   LedgerRepository
	configs  ConfigRepository
	subjects SubjectLoader
	runner   db.TxRunner
	auditor  *audit.Emitter
	logger   zerolog.Logger

	mu  sync.RWMutex
	cfg *AlgorithmConfig
}

func NewService(index CandidateIndex, ledger LedgerRepository, configs ConfigRepository, subjects SubjectLoader, runner db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		index: index, ledger: ledger, configs: configs, subjects: subjects,
		runner: runner, logger: logger, cfg: DefaultConfig(),
	}
}

func (s *Service) SetAuditor(a *audit.Emitter) { s.auditor = a }

// SetDefaultThresholds adjusts the shipped default configuration with
// deployment-level thresholds. A stored configuration loaded afterwards
// takes precedence.
func (s *Service) SetDefaultThresholds(min, auto decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MinConfidence = min
	s.cfg.AutoLinkThreshold = auto
}

// LoadConfig swaps in the active stored configuration. Falls back to
// the shipped default when none has been saved.
func (s *Service) LoadConfig(ctx context.Context) error {
	cfg, err := s.configs.Active(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		s.logger.Warn().Msg("no active match configuration stored, using shipped default")
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info().Str("name", cfg.Name).Int("version", cfg.Version).Msg("match configuration loaded")
	return nil
}

// ActiveConfig returns the configuration scoring currently runs with.
func (s *Service) ActiveConfig() AlgorithmConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// SaveConfig validates, persists and activates a new configuration.
func (s *Service) SaveConfig(ctx context.Context, cfg *AlgorithmConfig, actor string) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	cfg.ID = uuid.New()
	cfg.Active = true
	cfg.CreatedBy = actor
	cfg.CreatedAt = time.Now().UTC()
	cfg.Version = s.ActiveConfig().Version + 1

	if err := s.runner.InTx(ctx, func(ctx context.Context) error {
		return s.configs.Save(ctx, cfg)
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "match.config", Resource: "match_algorithm_config",
			Subject: cfg.Name, After: cfg,
		})
	}
	return nil
}

func validateConfig(cfg *AlgorithmConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return &errs.ValidationError{Field: "name", Detail: "required"}
	}
	one := decimal.NewFromInt(1)
	for field, w := range map[string]decimal.Decimal{
		"weight_name_full":     cfg.WeightNameFull,
		"weight_name_family":   cfg.WeightNameFamily,
		"weight_name_phonetic": cfg.WeightNamePhonetic,
		"weight_name_fuzzy":    cfg.WeightNameFuzzy,
		"weight_birth_exact":   cfg.WeightBirthExact,
		"weight_birth_near":    cfg.WeightBirthNear,
		"weight_sex":           cfg.WeightSex,
		"weight_identifier":    cfg.WeightIdentifier,
		"min_confidence":       cfg.MinConfidence,
		"auto_link_threshold":  cfg.AutoLinkThreshold,
		"probable_threshold":   cfg.ProbableThreshold,
	} {
		if w.IsNegative() || w.GreaterThan(one) {
			return &errs.ValidationError{Field: field, Detail: "must be within [0,1]"}
		}
	}
	if cfg.AutoLinkThreshold.LessThan(cfg.ProbableThreshold) {
		return &errs.ValidationError{Field: "auto_link_threshold", Detail: "below probable_threshold"}
	}
	if cfg.ProbableThreshold.LessThan(cfg.MinConfidence) {
		return &errs.ValidationError{Field: "probable_threshold", Detail: "below min_confidence"}
	}
	return nil
}

// FindMatches scores the query against the index and returns hits at
// or above the configured confidence floor, best first. Ties break on
// patient id so repeated runs return identical orderings.
func (s *Service) FindMatches(ctx context.Context, q Query, exclude uuid.UUID) ([]MatchResult, error) {
	q.Family = strings.TrimSpace(q.Family)
	q.Given = strings.TrimSpace(q.Given)
	if q.Family == "" && q.BirthDate.IsZero() {
		return nil, &errs.ValidationError{Field: "query", Detail: "family name or birth date required"}
	}

	cfg := s.ActiveConfig()
	candidates, err := s.index.FetchCandidates(ctx, phonetics.Soundex(q.Family), q.BirthDate, prefilterLimit)
	if err != nil {
		return nil, err
	}

	var results []MatchResult
	for _, cand := range candidates {
		if cand.PatientID == exclude {
			continue
		}
		score, features := Score(&cfg, q, cand)
		if score.LessThan(cfg.MinConfidence) {
			continue
		}
		results = append(results, MatchResult{
			PatientID: cand.PatientID,
			Score:     score,
			Grade:     cfg.GradeFor(score),
			Features:  features,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Score.Equal(results[j].Score) {
			return results[i].Score.GreaterThan(results[j].Score)
		}
		return results[i].PatientID.String() < results[j].PatientID.String()
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// ScanPatient matches a stored patient against the index and records
// every hit in the candidate ledger. Pairs already resolved by a
// reviewer keep their terminal status; pending pairs get rescored.
// A patient with neither a current name nor demographics has nothing
// to match on and yields no candidates.
func (s *Service) ScanPatient(ctx context.Context, patientID uuid.UUID, actor string) ([]MatchResult, error) {
	q, err := s.subjects.LoadSubject(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.Family) == "" && q.BirthDate.IsZero() {
		s.logger.Debug().Str("patient_id", patientID.String()).Msg("scan skipped, no matchable attributes")
		return nil, nil
	}

	results, err := s.FindMatches(ctx, q, patientID)
	if err != nil {
		return nil, err
	}

	cfg := s.ActiveConfig()
	for _, res := range results {
		lo, hi := CanonicalPair(patientID, res.PatientID)
		cand := &MatchCandidate{
			ID:        uuid.New(),
			PatientLo: lo, PatientHi: hi,
			Score: res.Score, Grade: res.Grade, Status: StatusPendingReview,
			Features:      res.Features,
			AlgorithmName: cfg.Name, AlgorithmVer: cfg.Version,
		}
		if err := s.ledger.Upsert(ctx, cand); err != nil {
			return nil, err
		}
	}

	if s.auditor != nil && len(results) > 0 {
		s.auditor.Emit(audit.Event{
			Actor: actor, Action: "match.scan", Resource: "match_candidate",
			Subject: patientID.String(),
			After:   map[string]int{"candidates": len(results)},
		})
	}
	return results, nil
}

func (s *Service) GetCandidate(ctx context.Context, id uuid.UUID) (*MatchCandidate, error) {
	return s.ledger.GetByID(ctx, id)
}

func (s *Service) ListCandidates(ctx context.Context, status ReviewStatus, limit, offset int) ([]*MatchCandidate, int, error) {
	if status == "" {
		status = StatusPendingReview
	}
	if status != StatusPendingReview && !status.Terminal() {
		return nil, 0, &errs.ValidationError{Field: "status", Detail: "unknown review status"}
	}
	return s.ledger.List(ctx, status, limit, offset)
}

// Review resolves a pending candidate. All review outcomes are
// terminal: a second review of the same row fails.
func (s *Service) Review(ctx context.Context, id uuid.UUID, status ReviewStatus, reviewer, note string) (*MatchCandidate, error) {
	if reviewer == "" {
		return nil, &errs.ValidationError{Field: "reviewer", Detail: "required"}
	}
	if !status.Terminal() {
		return nil, &errs.ValidationError{Field: "status", Detail: "review must resolve the candidate"}
	}

	ok, err := s.ledger.UpdateReview(ctx, id, status, reviewer, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		existing, err := s.ledger.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &errs.InvariantViolation{
			Detail: "candidate already resolved as " + string(existing.Status),
		}
	}

	cand, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			Actor: reviewer, Action: "match.review", Resource: "match_candidate",
			Subject: id.String(), Reason: note, After: cand,
		})
	}
	return cand, nil
}
