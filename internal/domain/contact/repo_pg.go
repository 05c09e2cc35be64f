package contact

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
	"github.com/mpi/mpi/internal/platform/temporal"
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

// -- patient_contact_point --

type pointRepoPG struct{ pool *pgxpool.Pool }

func NewContactPointRepoPG(pool *pgxpool.Pool) temporal.Repository[*ContactPoint] {
	return &pointRepoPG{pool: pool}
}

const pointCols = `id, patient_id, kind, use, value,
	effective_from, effective_to, is_current,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, delete_reason`

func scanPoint(row pgx.Row) (*ContactPoint, error) {
	var p ContactPoint
	err := row.Scan(&p.ID, &p.PatientID, &p.Kind, &p.Use, &p.Value,
		&p.EffectiveFrom, &p.EffectiveTo, &p.IsCurrent,
		&p.CreatedAt, &p.CreatedBy, &p.UpdatedAt, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.DeleteReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return &p, err
}

func (r *pointRepoPG) Insert(ctx context.Context, p *ContactPoint) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_contact_point (id, patient_id, kind, use, value,
			effective_from, effective_to, is_current, created_at, created_by, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.PatientID, p.Kind, p.Use, p.Value,
		p.EffectiveFrom, p.EffectiveTo, p.IsCurrent, p.CreatedAt, p.CreatedBy, p.UpdatedAt, p.UpdatedBy)
	return err
}

func (r *pointRepoPG) Close(ctx context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_contact_point SET is_current=false, effective_to=$2, updated_at=NOW(), updated_by=$3
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, effectiveTo, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pointRepoPG) MarkDeleted(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_contact_point SET is_current=false, effective_to=NOW(),
			deleted_at=NOW(), deleted_by=$2, delete_reason=NULLIF($3,''),
			updated_at=NOW(), updated_by=$2
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, actor, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pointRepoPG) Current(ctx context.Context, patientID uuid.UUID, subKey string) (*ContactPoint, error) {
	return scanPoint(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+pointCols+` FROM patient_contact_point
		WHERE patient_id = $1 AND kind || '/' || use = $2 AND is_current AND deleted_at IS NULL`,
		patientID, subKey))
}

func (r *pointRepoPG) At(ctx context.Context, patientID uuid.UUID, subKey string, ts time.Time) (*ContactPoint, error) {
	return scanPoint(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+pointCols+` FROM patient_contact_point
		WHERE patient_id = $1 AND kind || '/' || use = $2
			AND effective_from <= $3 AND effective_to > $3
			AND (deleted_at IS NULL OR deleted_at > $3)
		ORDER BY effective_from DESC LIMIT 1`,
		patientID, subKey, ts))
}

func (r *pointRepoPG) All(ctx context.Context, patientID uuid.UUID, subKey string) ([]*ContactPoint, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+pointCols+` FROM patient_contact_point
		WHERE patient_id = $1 AND kind || '/' || use = $2
		ORDER BY effective_from DESC`,
		patientID, subKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ContactPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, nil
}

// -- patient_address --

type addressRepoPG struct{ pool *pgxpool.Pool }

func NewAddressRepoPG(pool *pgxpool.Pool) temporal.Repository[*Address] {
	return &addressRepoPG{pool: pool}
}

const addressCols = `id, patient_id, use, line1, line2, city, state, postal_code, country,
	effective_from, effective_to, is_current,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, delete_reason`

func scanAddress(row pgx.Row) (*Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.PatientID, &a.Use, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country,
		&a.EffectiveFrom, &a.EffectiveTo, &a.IsCurrent,
		&a.CreatedAt, &a.CreatedBy, &a.UpdatedAt, &a.UpdatedBy, &a.DeletedAt, &a.DeletedBy, &a.DeleteReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return &a, err
}

func (r *addressRepoPG) Insert(ctx context.Context, a *Address) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_address (id, patient_id, use, line1, line2, city, state, postal_code, country,
			effective_from, effective_to, is_current, created_at, created_by, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.PatientID, a.Use, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country,
		a.EffectiveFrom, a.EffectiveTo, a.IsCurrent, a.CreatedAt, a.CreatedBy, a.UpdatedAt, a.UpdatedBy)
	return err
}

func (r *addressRepoPG) Close(ctx context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_address SET is_current=false, effective_to=$2, updated_at=NOW(), updated_by=$3
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, effectiveTo, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *addressRepoPG) MarkDeleted(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_address SET is_current=false, effective_to=NOW(),
			deleted_at=NOW(), deleted_by=$2, delete_reason=NULLIF($3,''),
			updated_at=NOW(), updated_by=$2
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, actor, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *addressRepoPG) Current(ctx context.Context, patientID uuid.UUID, subKey string) (*Address, error) {
	return scanAddress(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+addressCols+` FROM patient_address
		WHERE patient_id = $1 AND use = $2 AND is_current AND deleted_at IS NULL`,
		patientID, subKey))
}

func (r *addressRepoPG) At(ctx context.Context, patientID uuid.UUID, subKey string, ts time.Time) (*Address, error) {
	return scanAddress(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+addressCols+` FROM patient_address
		WHERE patient_id = $1 AND use = $2
			AND effective_from <= $3 AND effective_to > $3
			AND (deleted_at IS NULL OR deleted_at > $3)
		ORDER BY effective_from DESC LIMIT 1`,
		patientID, subKey, ts))
}

func (r *addressRepoPG) All(ctx context.Context, patientID uuid.UUID, subKey string) ([]*Address, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+addressCols+` FROM patient_address
		WHERE patient_id = $1 AND use = $2
		ORDER BY effective_from DESC`,
		patientID, subKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, nil
}
