package reporting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxportal/vaxportal/internal/platform/db"
)

// Reports only read.
type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM student),
			(SELECT COUNT(DISTINCT student_id) FROM vaccination),
			(SELECT COUNT(*) FROM vaccination_drive),
			(SELECT COALESCE(SUM(available_doses), 0) FROM vaccination_drive)`,
	).Scan(&c.TotalStudents, &c.VaccinatedStudents, &c.TotalDrives, &c.TotalDosesAvailable)
	return c, err
}

func (r *repoPG) UpcomingDrives(ctx context.Context, from, to time.Time) ([]DriveSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, drive_date, available_doses, applicable_classes
		FROM vaccination_drive
		WHERE drive_date BETWEEN $1 AND $2
		ORDER BY drive_date`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DriveSummary{}
	for rows.Next() {
		var (
			d   DriveSummary
			day time.Time
		)
		if err := rows.Scan(&d.ID, &d.Name, &day, &d.AvailableDoses, &d.ApplicableClasses); err != nil {
			return nil, err
		}
		d.Date.Time = day
		out = append(out, d)
	}
	return out, rows.Err()
}

const (
	reportCols = `v.id, s.name, s.student_id, s.class, d.name, d.drive_date, v.vaccination_date`
	reportFrom = `vaccination v
		JOIN student s ON s.id = v.student_id
		JOIN vaccination_drive d ON d.id = v.drive_id`
)

func (r *repoPG) Vaccinations(ctx context.Context, f Filter, limit, offset int) ([]Row, int, error) {
	q := db.NewListQuery(reportFrom, reportCols).OrderBy("v.vaccination_date DESC, s.name")
	if f.Vaccine != "" {
		q.Add("d.name ILIKE ?", db.ContainsPattern(f.Vaccine))
	}
	if f.Class != "" {
		q.Add("s.class = ?", f.Class)
	}
	if f.From != nil {
		q.Add("v.vaccination_date >= ?", *f.From)
	}
	if f.To != nil {
		q.Add("v.vaccination_date <= ?", *f.To)
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

	out := []Row{}
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.VaccinationID, &row.StudentName, &row.StudentID, &row.Class,
			&row.VaccineName, &row.DriveDate, &row.VaccinationDate); err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}
