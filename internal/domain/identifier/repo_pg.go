package identifier

import (
	"context"
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

type identifierRepoPG struct{ pool *pgxpool.Pool }

func NewIdentifierRepoPG(pool *pgxpool.Pool) Repository {
	return &identifierRepoPG{pool: pool}
}

func (r *identifierRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const identifierCols = `id, patient_id, id_type, system, value_digest, value_encrypted, last4,
	effective_from, effective_to, is_current,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, delete_reason`

func scanIdentifier(row pgx.Row) (*Identifier, error) {
	var i Identifier
	err := row.Scan(&i.ID, &i.PatientID, &i.IDType, &i.System, &i.ValueDigest, &i.ValueEncrypted, &i.Last4,
		&i.EffectiveFrom, &i.EffectiveTo, &i.IsCurrent,
		&i.CreatedAt, &i.CreatedBy, &i.UpdatedAt, &i.UpdatedBy, &i.DeletedAt, &i.DeletedBy, &i.DeleteReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return &i, err
}

func (r *identifierRepoPG) Insert(ctx context.Context, i *Identifier) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_identifier (id, patient_id, id_type, system, value_digest, value_encrypted, last4,
			effective_from, effective_to, is_current, created_at, created_by, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		i.ID, i.PatientID, i.IDType, i.System, i.ValueDigest, i.ValueEncrypted, i.Last4,
		i.EffectiveFrom, i.EffectiveTo, i.IsCurrent, i.CreatedAt, i.CreatedBy, i.UpdatedAt, i.UpdatedBy)
	return err
}

func (r *identifierRepoPG) Close(ctx context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_identifier SET is_current=false, effective_to=$2, updated_at=NOW(), updated_by=$3
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, effectiveTo, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *identifierRepoPG) MarkDeleted(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_identifier SET is_current=false, effective_to=NOW(),
			deleted_at=NOW(), deleted_by=$2, delete_reason=NULLIF($3,''),
			updated_at=NOW(), updated_by=$2
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, actor, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *identifierRepoPG) Current(ctx context.Context, patientID uuid.UUID, subKey string) (*Identifier, error) {
	return scanIdentifier(r.conn(ctx).QueryRow(ctx, `
		SELECT `+identifierCols+` FROM patient_identifier
		WHERE patient_id = $1 AND id_type || '/' || system = $2 AND is_current AND deleted_at IS NULL`,
		patientID, subKey))
}

func (r *identifierRepoPG) At(ctx context.Context, patientID uuid.UUID, subKey string, ts time.Time) (*Identifier, error) {
	return scanIdentifier(r.conn(ctx).QueryRow(ctx, `
		SELECT `+identifierCols+` FROM patient_identifier
		WHERE patient_id = $1 AND id_type || '/' || system = $2
			AND effective_from <= $3 AND effective_to > $3
			AND (deleted_at IS NULL OR deleted_at > $3)
		ORDER BY effective_from DESC LIMIT 1`,
		patientID, subKey, ts))
}

func (r *identifierRepoPG) All(ctx context.Context, patientID uuid.UUID, subKey string) ([]*Identifier, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+identifierCols+` FROM patient_identifier
		WHERE patient_id = $1 AND id_type || '/' || system = $2
		ORDER BY effective_from DESC`,
		patientID, subKey)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *identifierRepoPG) FindPatientsByDigest(ctx context.Context, idType Type, system, digest string) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT patient_id FROM patient_identifier
		WHERE id_type = $1 AND system = $2 AND value_digest = $3
			AND is_current AND deleted_at IS NULL
		ORDER BY patient_id`,
		idType, system, digest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *identifierRepoPG) CurrentByPatient(ctx context.Context, patientID uuid.UUID) ([]*Identifier, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+identifierCols+` FROM patient_identifier
		WHERE patient_id = $1 AND is_current AND deleted_at IS NULL
		ORDER BY id_type, system`,
		patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Identifier, error) {
	defer rows.Close()
	var items []*Identifier
	for rows.Next() {
		i, err := scanIdentifier(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, nil
}
