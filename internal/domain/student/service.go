package student

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/pkg/apperrors"
)

var (
	errNotFound        = apperrors.NotFound("student_not_found", "Student not found")
	errStudentIDTaken  = apperrors.Conflict("student_id_taken", "A student with this student ID already exists")
	errHasVaccinations = apperrors.Conflict("student_has_vaccinations", "Cannot delete a student with recorded vaccinations")
)

type Service struct {
	students Repository
	tx       db.Transactor
}

func NewService(students Repository, tx db.Transactor) *Service {
	return &Service{students: students, tx: tx}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Student, error) {
	st := &Student{
		Name:      strings.TrimSpace(req.Name),
		StudentID: strings.TrimSpace(req.StudentID),
		Class:     strings.TrimSpace(req.Class),
	}
	if err := validate(st); err != nil {
		return nil, err
	}
	if err := s.students.Create(ctx, st); err != nil {
		if db.IsUniqueViolation(err, constraintStudentID) {
			return nil, errStudentIDTaken
		}
		return nil, fmt.Errorf("create student: %w", err)
	}
	return st, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Student, error) {
	st, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Student, error) {
	st, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if req.Name != nil {
		st.Name = strings.TrimSpace(*req.Name)
	}
	if req.StudentID != nil {
		st.StudentID = strings.TrimSpace(*req.StudentID)
	}
	if req.Class != nil {
		st.Class = strings.TrimSpace(*req.Class)
	}
	if err := validate(st); err != nil {
		return nil, err
	}
	if err := s.students.Update(ctx, st); err != nil {
		if db.IsUniqueViolation(err, constraintStudentID) {
			return nil, errStudentIDTaken
		}
		return nil, notFound(err)
	}
	return st, nil
}

// Delete removes a student. Students with vaccination records are kept so
// that consumed doses stay accounted for.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.students.GetByID(ctx, id); err != nil {
			return notFound(err)
		}
		has, err := s.students.HasVaccinations(ctx, id)
		if err != nil {
			return fmt.Errorf("check vaccinations: %w", err)
		}
		if has {
			return errHasVaccinations
		}
		if err := s.students.Delete(ctx, id); err != nil {
			if db.IsForeignKeyViolation(err, constraintVaccinationFKey) {
				return errHasVaccinations
			}
			return notFound(err)
		}
		return nil
	})
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Student, int, error) {
	f.Search = strings.TrimSpace(f.Search)
	f.Class = strings.TrimSpace(f.Class)
	return s.students.List(ctx, f, limit, offset)
}

func validate(st *Student) error {
	if st.Name == "" || st.StudentID == "" || st.Class == "" {
		return apperrors.Validation("missing_fields", "Name, student ID and class are required")
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return errNotFound
	}
	return err
}
