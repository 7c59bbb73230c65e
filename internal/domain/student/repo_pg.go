package student

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxportal/vaxportal/internal/platform/db"
)

const (
	constraintStudentID       = "student_student_id_key"
	constraintVaccinationFKey = "vaccination_student_id_fkey"
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

const studentCols = `id, name, student_id, class, created_at, updated_at`

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.StudentID, &s.Class, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, db.NoRows(err)
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Student) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO student (id, name, student_id, class)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.StudentID, s.Class).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Student, error) {
	return scanStudent(r.conn(ctx).QueryRow(ctx, `SELECT `+studentCols+` FROM student WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, s *Student) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE student SET name = $2, student_id = $3, class = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Name, s.StudentID, s.Class).Scan(&s.UpdatedAt)
	return db.NoRows(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM student WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Student, int, error) {
	q := db.NewListQuery("student", studentCols).OrderBy("class, name, id")
	if f.Search != "" {
		p := db.ContainsPattern(f.Search)
		q.Add("(name ILIKE ? OR student_id ILIKE ?)", p, p)
	}
	if f.Class != "" {
		q.Add("class = ?", f.Class)
	}
	if f.Vaccinated != nil {
		cond := "EXISTS (SELECT 1 FROM vaccination v WHERE v.student_id = student.id)"
		if !*f.Vaccinated {
			cond = "NOT " + cond
		}
		q.Add(cond)
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

	items := []*Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) HasVaccinations(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vaccination WHERE student_id = $1)`, id).Scan(&exists)
	return exists, err
}
