package demographic

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

// -- patient_name --

type nameRepoPG struct{ pool *pgxpool.Pool }

func NewNameRepoPG(pool *pgxpool.Pool) temporal.Repository[*PatientName] {
	return &nameRepoPG{pool: pool}
}

const nameCols = `id, patient_id, name_type, family, given, middle, prefix, suffix,
	family_soundex, family_metaphone, given_metaphone,
	effective_from, effective_to, is_current,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, delete_reason`

func scanName(row pgx.Row) (*PatientName, error) {
	var n PatientName
	err := row.Scan(&n.ID, &n.PatientID, &n.NameType, &n.Family, &n.Given, &n.Middle, &n.Prefix, &n.Suffix,
		&n.FamilySoundex, &n.FamilyMetaphone, &n.GivenMetaphone,
		&n.EffectiveFrom, &n.EffectiveTo, &n.IsCurrent,
		&n.CreatedAt, &n.CreatedBy, &n.UpdatedAt, &n.UpdatedBy, &n.DeletedAt, &n.DeletedBy, &n.DeleteReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return &n, err
}

func (r *nameRepoPG) Insert(ctx context.Context, n *PatientName) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_name (id, patient_id, name_type, family, given, middle, prefix, suffix,
			family_soundex, family_metaphone, given_metaphone,
			effective_from, effective_to, is_current, created_at, created_by, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		n.ID, n.PatientID, n.NameType, n.Family, n.Given, n.Middle, n.Prefix, n.Suffix,
		n.FamilySoundex, n.FamilyMetaphone, n.GivenMetaphone,
		n.EffectiveFrom, n.EffectiveTo, n.IsCurrent, n.CreatedAt, n.CreatedBy, n.UpdatedAt, n.UpdatedBy)
	return err
}

func (r *nameRepoPG) Close(ctx context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_name SET is_current=false, effective_to=$2, updated_at=NOW(), updated_by=$3
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, effectiveTo, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nameRepoPG) MarkDeleted(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_name SET is_current=false, effective_to=NOW(),
			deleted_at=NOW(), deleted_by=$2, delete_reason=NULLIF($3,''),
			updated_at=NOW(), updated_by=$2
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, actor, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *nameRepoPG) Current(ctx context.Context, patientID uuid.UUID, subKey string) (*PatientName, error) {
	return scanName(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+nameCols+` FROM patient_name
		WHERE patient_id = $1 AND name_type = $2 AND is_current AND deleted_at IS NULL`,
		patientID, subKey))
}

func (r *nameRepoPG) At(ctx context.Context, patientID uuid.UUID, subKey string, ts time.Time) (*PatientName, error) {
	return scanName(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+nameCols+` FROM patient_name
		WHERE patient_id = $1 AND name_type = $2
			AND effective_from <= $3 AND effective_to > $3
			AND (deleted_at IS NULL OR deleted_at > $3)
		ORDER BY effective_from DESC LIMIT 1`,
		patientID, subKey, ts))
}

func (r *nameRepoPG) All(ctx context.Context, patientID uuid.UUID, subKey string) ([]*PatientName, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+nameCols+` FROM patient_name
		WHERE patient_id = $1 AND name_type = $2
		ORDER BY effective_from DESC`,
		patientID, subKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PatientName
	for rows.Next() {
		n, err := scanName(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, nil
}

// -- patient_demographics --

type demoRepoPG struct{ pool *pgxpool.Pool }

func NewDemographicsRepoPG(pool *pgxpool.Pool) temporal.Repository[*Demographics] {
	return &demoRepoPG{pool: pool}
}

const demoCols = `id, patient_id, birth_date, sex, birth_place, deceased_at,
	effective_from, effective_to, is_current,
	created_at, created_by, updated_at, updated_by, deleted_at, deleted_by, delete_reason`

func scanDemo(row pgx.Row) (*Demographics, error) {
	var d Demographics
	err := row.Scan(&d.ID, &d.PatientID, &d.BirthDate, &d.Sex, &d.BirthPlace, &d.DeceasedAt,
		&d.EffectiveFrom, &d.EffectiveTo, &d.IsCurrent,
		&d.CreatedAt, &d.CreatedBy, &d.UpdatedAt, &d.UpdatedBy, &d.DeletedAt, &d.DeletedBy, &d.DeleteReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return &d, err
}

func (r *demoRepoPG) Insert(ctx context.Context, d *Demographics) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_demographics (id, patient_id, birth_date, sex, birth_place, deceased_at,
			effective_from, effective_to, is_current, created_at, created_by, updated_at, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.PatientID, d.BirthDate, d.Sex, d.BirthPlace, d.DeceasedAt,
		d.EffectiveFrom, d.EffectiveTo, d.IsCurrent, d.CreatedAt, d.CreatedBy, d.UpdatedAt, d.UpdatedBy)
	return err
}

func (r *demoRepoPG) Close(ctx context.Context, rowID uuid.UUID, effectiveTo time.Time, actor string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_demographics SET is_current=false, effective_to=$2, updated_at=NOW(), updated_by=$3
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, effectiveTo, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *demoRepoPG) MarkDeleted(ctx context.Context, rowID uuid.UUID, actor, reason string) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_demographics SET is_current=false, effective_to=NOW(),
			deleted_at=NOW(), deleted_by=$2, delete_reason=NULLIF($3,''),
			updated_at=NOW(), updated_by=$2
		WHERE id = $1 AND is_current AND deleted_at IS NULL`,
		rowID, actor, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *demoRepoPG) Current(ctx context.Context, patientID uuid.UUID, _ string) (*Demographics, error) {
	return scanDemo(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+demoCols+` FROM patient_demographics
		WHERE patient_id = $1 AND is_current AND deleted_at IS NULL`,
		patientID))
}

func (r *demoRepoPG) At(ctx context.Context, patientID uuid.UUID, _ string, ts time.Time) (*Demographics, error) {
	return scanDemo(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+demoCols+` FROM patient_demographics
		WHERE patient_id = $1
			AND effective_from <= $2 AND effective_to > $2
			AND (deleted_at IS NULL OR deleted_at > $2)
		ORDER BY effective_from DESC LIMIT 1`,
		patientID, ts))
}

func (r *demoRepoPG) All(ctx context.Context, patientID uuid.UUID, _ string) ([]*Demographics, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+demoCols+` FROM patient_demographics
		WHERE patient_id = $1
		ORDER BY effective_from DESC`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Demographics
	for rows.Next() {
		d, err := scanDemo(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, nil
}
