package drive

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxportal/vaxportal/internal/platform/db"
)

const (
	constraintDriveDate       = "vaccination_drive_date_key"
	constraintVaccinationFKey = "vaccination_drive_id_fkey"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const driveCols = `id, name, drive_date, available_doses, applicable_classes, created_at, updated_at`

func scanDrive(row pgx.Row) (*Drive, error) {
	var d Drive
	if err := row.Scan(&d.ID, &d.Name, &d.Date, &d.AvailableDoses, &d.ApplicableClasses, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, db.NoRows(err)
	}
	return &d, nil
}

func (r *repoPG) Create(ctx context.Context, d *Drive) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vaccination_drive (id, name, drive_date, available_doses, applicable_classes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Date, d.AvailableDoses, d.ApplicableClasses).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Drive, error) {
	return scanDrive(r.conn(ctx).QueryRow(ctx, `SELECT `+driveCols+` FROM vaccination_drive WHERE id = $1`, id))
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Drive, error) {
	return scanDrive(r.conn(ctx).QueryRow(ctx, `SELECT `+driveCols+` FROM vaccination_drive WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetByDate(ctx context.Context, day time.Time) (*Drive, error) {
	return scanDrive(r.conn(ctx).QueryRow(ctx, `SELECT `+driveCols+` FROM vaccination_drive WHERE drive_date = $1`, day))
}

// Update writes the schedulable fields. available_doses is owned by
// ConsumeDose and RestoreDose.
func (r *repoPG) Update(ctx context.Context, d *Drive) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE vaccination_drive
		SET name = $2, drive_date = $3, applicable_classes = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING available_doses, updated_at`,
		d.ID, d.Name, d.Date, d.ApplicableClasses).Scan(&d.AvailableDoses, &d.UpdatedAt)
	return db.NoRows(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM vaccination_drive WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Drive, int, error) {
	q := db.NewListQuery("vaccination_drive", driveCols).OrderBy("drive_date, name")
	if f.From != nil {
		q.Add("drive_date >= ?", *f.From)
	}
	if f.To != nil {
		q.Add("drive_date <= ?", *f.To)
	}
	if f.Search != "" {
		q.Add("name ILIKE ?", db.ContainsPattern(f.Search))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Drive{}
	for rows.Next() {
		d, err := scanDrive(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *repoPG) HasVaccinations(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vaccination WHERE drive_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repoPG) ConsumeDose(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE vaccination_drive
		SET available_doses = available_doses - 1, updated_at = NOW()
		WHERE id = $1 AND available_doses > 0`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) RestoreDose(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE vaccination_drive
		SET available_doses = COALESCE(available_doses, 0) + 1, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}
