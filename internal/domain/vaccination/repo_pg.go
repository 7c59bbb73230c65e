package vaccination

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxportal/vaxportal/internal/platform/db"
)

const (
	constraintStudentDrive = "vaccination_student_drive_key"
	constraintStudentFKey  = "vaccination_student_id_fkey"
	constraintDriveFKey    = "vaccination_drive_id_fkey"
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

const (
	vaccinationCols = `v.id, v.student_id, v.drive_id, v.vaccination_date, v.created_at, v.updated_at,
		s.name, s.class, d.name`
	vaccinationFrom = `vaccination v
		JOIN student s ON s.id = v.student_id
		JOIN vaccination_drive d ON d.id = v.drive_id`
)

func scanVaccination(row pgx.Row) (*Vaccination, error) {
	var v Vaccination
	err := row.Scan(&v.ID, &v.StudentID, &v.DriveID, &v.VaccinationDate, &v.CreatedAt, &v.UpdatedAt,
		&v.StudentName, &v.StudentClass, &v.DriveName)
	if err != nil {
		return nil, db.NoRows(err)
	}
	return &v, nil
}

func (r *repoPG) Create(ctx context.Context, v *Vaccination) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vaccination (id, student_id, drive_id, vaccination_date)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		v.ID, v.StudentID, v.DriveID, v.VaccinationDate).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	return scanVaccination(r.conn(ctx).QueryRow(ctx,
		`SELECT `+vaccinationCols+` FROM `+vaccinationFrom+` WHERE v.id = $1`, id))
}

// GetByIDForUpdate locks only the vaccination row; drive rows are locked
// through the drive ledger.
func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	return scanVaccination(r.conn(ctx).QueryRow(ctx,
		`SELECT `+vaccinationCols+` FROM `+vaccinationFrom+` WHERE v.id = $1 FOR UPDATE OF v`, id))
}

func (r *repoPG) FindByStudentAndDrive(ctx context.Context, studentID, driveID uuid.UUID) (*Vaccination, error) {
	return scanVaccination(r.conn(ctx).QueryRow(ctx,
		`SELECT `+vaccinationCols+` FROM `+vaccinationFrom+` WHERE v.student_id = $1 AND v.drive_id = $2`,
		studentID, driveID))
}

func (r *repoPG) Update(ctx context.Context, v *Vaccination) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE vaccination
		SET student_id = $2, drive_id = $3, vaccination_date = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.StudentID, v.DriveID, v.VaccinationDate).Scan(&v.UpdatedAt)
	return db.NoRows(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM vaccination WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Vaccination, int, error) {
	q := db.NewListQuery(vaccinationFrom, vaccinationCols).OrderBy("v.vaccination_date DESC, s.name")
	if f.StudentID != nil {
		q.Add("v.student_id = ?", *f.StudentID)
	}
	if f.DriveID != nil {
		q.Add("v.drive_id = ?", *f.DriveID)
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

	items := []*Vaccination{}
	for rows.Next() {
		v, err := scanVaccination(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
