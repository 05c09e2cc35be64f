package link

import (
	"context"
	"errors"

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

type linkRepoPG struct{ pool *pgxpool.Pool }

func NewLinkRepoPG(pool *pgxpool.Pool) Repository {
	return &linkRepoPG{pool: pool}
}

func (r *linkRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const linkCols = `id, master_id, child_id, link_type, status, confidence, candidate_id, root_id, level, reason,
	created_at, created_by, updated_at, updated_by`

func scanLink(row pgx.Row) (*PatientLink, error) {
	var (
		l      PatientLink
		reason *string
	)
	err := row.Scan(&l.ID, &l.MasterID, &l.ChildID, &l.Type, &l.Status, &l.Confidence, &l.CandidateID,
		&l.RootID, &l.Level, &reason,
		&l.CreatedAt, &l.CreatedBy, &l.UpdatedAt, &l.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reason != nil {
		l.Reason = *reason
	}
	return &l, nil
}

func (r *linkRepoPG) Insert(ctx context.Context, l *PatientLink) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_link (id, master_id, child_id, link_type, status, confidence, candidate_id,
			root_id, level, reason, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$11)`,
		l.ID, l.MasterID, l.ChildID, l.Type, l.Status, l.Confidence, l.CandidateID,
		l.RootID, l.Level, l.Reason, l.CreatedBy)
	return err
}

func (r *linkRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientLink, error) {
	return scanLink(r.conn(ctx).QueryRow(ctx,
		`SELECT `+linkCols+` FROM patient_link WHERE id = $1`, id))
}

func (r *linkRepoPG) ActiveByChild(ctx context.Context, childID uuid.UUID) (*PatientLink, error) {
	return scanLink(r.conn(ctx).QueryRow(ctx, `
		SELECT `+linkCols+` FROM patient_link
		WHERE child_id = $1 AND status IN ('proposed','confirmed','auto_confirmed')`,
		childID))
}

func (r *linkRepoPG) ActiveByMaster(ctx context.Context, masterID uuid.UUID) ([]*PatientLink, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+linkCols+` FROM patient_link
		WHERE master_id = $1 AND status IN ('proposed','confirmed','auto_confirmed')
		ORDER BY child_id`,
		masterID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *linkRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, actor, reason string) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_link
		SET status=$2, reason=COALESCE(NULLIF($4,''), reason), updated_at=NOW(), updated_by=$3
		WHERE id = $1 AND status = ANY($5)`,
		id, to, actor, reason, states)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *linkRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*PatientLink, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+linkCols+` FROM patient_link
		WHERE master_id = $1 OR child_id = $1
		ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*PatientLink, error) {
	defer rows.Close()
	var items []*PatientLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, nil
}
