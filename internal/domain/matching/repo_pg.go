package matching

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- candidate index --

type indexRepoPG struct{ pool *pgxpool.Pool }

func NewCandidateIndexPG(pool *pgxpool.Pool) CandidateIndex {
	return &indexRepoPG{pool: pool}
}

func (r *indexRepoPG) FetchCandidates(ctx context.Context, familySoundex string, birthDate time.Time, limit int) ([]CandidateRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT p.id, n.family, n.given, n.family_soundex, n.family_metaphone, n.given_metaphone,
			d.birth_date, d.sex,
			COALESCE((SELECT array_agg(i.value_digest) FROM patient_identifier i
				WHERE i.patient_id = p.id AND i.is_current AND i.deleted_at IS NULL), '{}')
		FROM patient p
		JOIN patient_name n ON n.patient_id = p.id
			AND n.name_type = 'official' AND n.is_current AND n.deleted_at IS NULL
		LEFT JOIN patient_demographics d ON d.patient_id = p.id
			AND d.is_current AND d.deleted_at IS NULL
		WHERE p.status NOT IN ('merged','deleted')
			AND (n.family_soundex = $1 OR d.birth_date = $2)
		ORDER BY p.id
		LIMIT $3`,
		familySoundex, birthDate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateRecord
	for rows.Next() {
		var (
			c     CandidateRecord
			birth *time.Time
			sex   *string
		)
		if err := rows.Scan(&c.PatientID, &c.Family, &c.Given,
			&c.FamilySoundex, &c.FamilyMetaphone, &c.GivenMetaphone,
			&birth, &sex, &c.IdentifierDigests); err != nil {
			return nil, err
		}
		if birth != nil {
			c.BirthDate = *birth
		}
		if sex != nil {
			c.Sex = *sex
		}
		out = append(out, c)
	}
	return out, nil
}

// -- candidate ledger --

type ledgerRepoPG struct{ pool *pgxpool.Pool }

func NewLedgerRepoPG(pool *pgxpool.Pool) LedgerRepository {
	return &ledgerRepoPG{pool: pool}
}

const candidateCols = `id, patient_lo, patient_hi, score, grade, status, features,
	algorithm_name, algorithm_version, reviewed_by, reviewed_at, review_note,
	first_detected, last_scored, expires_at`

func scanCandidate(row pgx.Row) (*MatchCandidate, error) {
	var (
		c        MatchCandidate
		features []byte
		reviewer *string
		note     *string
	)
	err := row.Scan(&c.ID, &c.PatientLo, &c.PatientHi, &c.Score, &c.Grade, &c.Status, &features,
		&c.AlgorithmName, &c.AlgorithmVer, &reviewer, &c.ReviewedAt, &note,
		&c.FirstDetected, &c.LastScored, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &c.Features); err != nil {
			return nil, err
		}
	}
	if reviewer != nil {
		c.ReviewedBy = *reviewer
	}
	if note != nil {
		c.ReviewNote = *note
	}
	return &c, nil
}

func (r *ledgerRepoPG) Upsert(ctx context.Context, cand *MatchCandidate) error {
	features, err := json.Marshal(cand.Features)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO match_candidate (id, patient_lo, patient_hi, score, grade, status, features,
			algorithm_name, algorithm_version, first_detected, last_scored, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW(),$10)
		ON CONFLICT (patient_lo, patient_hi) DO UPDATE
			SET score=EXCLUDED.score, grade=EXCLUDED.grade, features=EXCLUDED.features,
				algorithm_name=EXCLUDED.algorithm_name, algorithm_version=EXCLUDED.algorithm_version,
				last_scored=NOW()
			WHERE match_candidate.status = 'pending_review'`,
		cand.ID, cand.PatientLo, cand.PatientHi, cand.Score, cand.Grade, cand.Status, features,
		cand.AlgorithmName, cand.AlgorithmVer, cand.ExpiresAt)
	return err
}

func (r *ledgerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MatchCandidate, error) {
	return scanCandidate(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+candidateCols+` FROM match_candidate WHERE id = $1`, id))
}

func (r *ledgerRepoPG) GetByPair(ctx context.Context, lo, hi uuid.UUID) (*MatchCandidate, error) {
	return scanCandidate(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+candidateCols+` FROM match_candidate WHERE patient_lo = $1 AND patient_hi = $2`, lo, hi))
}

func (r *ledgerRepoPG) List(ctx context.Context, status ReviewStatus, limit, offset int) ([]*MatchCandidate, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM match_candidate WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+candidateCols+` FROM match_candidate
		WHERE status = $1
		ORDER BY score DESC, patient_lo, patient_hi
		LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MatchCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *ledgerRepoPG) UpdateReview(ctx context.Context, id uuid.UUID, status ReviewStatus, reviewer, note string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE match_candidate
		SET status=$2, reviewed_by=$3, reviewed_at=NOW(), review_note=NULLIF($4,'')
		WHERE id = $1 AND status = 'pending_review'`,
		id, status, reviewer, note)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// -- algorithm config --

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository {
	return &configRepoPG{pool: pool}
}

const configCols = `id, name, version, weight_name_full, weight_name_family, weight_name_phonetic, weight_name_fuzzy,
	weight_birth_exact, weight_birth_near, weight_sex, weight_identifier,
	min_confidence, auto_link_threshold, probable_threshold, active, created_at, created_by`

func scanConfig(row pgx.Row) (*AlgorithmConfig, error) {
	var c AlgorithmConfig
	err := row.Scan(&c.ID, &c.Name, &c.Version,
		&c.WeightNameFull, &c.WeightNameFamily, &c.WeightNamePhonetic, &c.WeightNameFuzzy,
		&c.WeightBirthExact, &c.WeightBirthNear, &c.WeightSex, &c.WeightIdentifier,
		&c.MinConfidence, &c.AutoLinkThreshold, &c.ProbableThreshold, &c.Active, &c.CreatedAt, &c.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return &c, err
}

func (r *configRepoPG) Active(ctx context.Context) (*AlgorithmConfig, error) {
	return scanConfig(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+configCols+` FROM match_algorithm_config WHERE active ORDER BY version DESC LIMIT 1`))
}

func (r *configRepoPG) Save(ctx context.Context, cfg *AlgorithmConfig) error {
	if cfg.Active {
		if _, err := conn(ctx, r.pool).Exec(ctx,
			`UPDATE match_algorithm_config SET active=false WHERE active`); err != nil {
			return err
		}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO match_algorithm_config (id, name, version,
			weight_name_full, weight_name_family, weight_name_phonetic, weight_name_fuzzy,
			weight_birth_exact, weight_birth_near, weight_sex, weight_identifier,
			min_confidence, auto_link_threshold, probable_threshold, active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		cfg.ID, cfg.Name, cfg.Version,
		cfg.WeightNameFull, cfg.WeightNameFamily, cfg.WeightNamePhonetic, cfg.WeightNameFuzzy,
		cfg.WeightBirthExact, cfg.WeightBirthNear, cfg.WeightSex, cfg.WeightIdentifier,
		cfg.MinConfidence, cfg.AutoLinkThreshold, cfg.ProbableThreshold, cfg.Active, cfg.CreatedBy)
	return err
}
