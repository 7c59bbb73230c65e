package student

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/pkg/apperrors"
)

// =========== Mocks ===========

type mockRepo struct {
	store      map[uuid.UUID]*Student
	vaccinated map[uuid.UUID]bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Student), vaccinated: make(map[uuid.UUID]bool)}
}

func (m *mockRepo) Create(_ context.Context, s *Student) error {
	for _, existing := range m.store {
		if existing.StudentID == s.StudentID {
			return &pgconn.PgError{Code: "23505", ConstraintName: constraintStudentID}
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Student, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, s *Student) error {
	if _, ok := m.store[s.ID]; !ok {
		return db.ErrNotFound
	}
	for id, existing := range m.store {
		if id != s.ID && existing.StudentID == s.StudentID {
			return &pgconn.PgError{Code: "23505", ConstraintName: constraintStudentID}
		}
	}
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Student, int, error) {
	var all []*Student
	for _, s := range m.store {
		if f.Class != "" && s.Class != f.Class {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(f.Search)) &&
			!strings.Contains(strings.ToLower(s.StudentID), strings.ToLower(f.Search)) {
			continue
		}
		if f.Vaccinated != nil && m.vaccinated[s.ID] != *f.Vaccinated {
			continue
		}
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) HasVaccinations(_ context.Context, id uuid.UUID) (bool, error) {
	return m.vaccinated[id], nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, passthroughTx{}), repo
}

func mustCreate(t *testing.T, svc *Service, name, sid, class string) *Student {
	t.Helper()
	st, err := svc.Create(context.Background(), CreateRequest{Name: name, StudentID: sid, Class: class})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return st
}

// =========== Tests ===========

func TestCreate_TrimsAndStores(t *testing.T) {
	svc, repo := newTestService()
	st, err := svc.Create(context.Background(), CreateRequest{Name: "  Asha Rao ", StudentID: " S-001 ", Class: " 7 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	stored := repo.store[st.ID]
	if stored.Name != "Asha Rao" || stored.StudentID != "S-001" || stored.Class != "7" {
		t.Errorf("expected trimmed fields, got %+v", stored)
	}
}

func TestCreate_RequiresFields(t *testing.T) {
	svc, _ := newTestService()
	for _, req := range []CreateRequest{
		{StudentID: "S-1", Class: "7"},
		{Name: "A", Class: "7"},
		{Name: "A", StudentID: "S-1", Class: "   "},
	} {
		_, err := svc.Create(context.Background(), req)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestCreate_DuplicateStudentID(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, "Asha", "S-001", "7")
	_, err := svc.Create(context.Background(), CreateRequest{Name: "Other", StudentID: "S-001", Class: "8"})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) || err.Error() != "Student not found" {
		t.Fatalf("expected Student not found, got %v", err)
	}
}

func TestUpdate_Partial(t *testing.T) {
	svc, _ := newTestService()
	st := mustCreate(t, svc, "Asha", "S-001", "7")

	class := "8"
	got, err := svc.Update(context.Background(), st.ID, UpdateRequest{Class: &class})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Class != "8" || got.Name != "Asha" || got.StudentID != "S-001" {
		t.Errorf("expected only class to change, got %+v", got)
	}
}

func TestUpdate_RejectsBlankName(t *testing.T) {
	svc, _ := newTestService()
	st := mustCreate(t, svc, "Asha", "S-001", "7")
	blank := " "
	if _, err := svc.Update(context.Background(), st.ID, UpdateRequest{Name: &blank}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdate_StudentIDTaken(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, "Asha", "S-001", "7")
	b := mustCreate(t, svc, "Ben", "S-002", "7")
	taken := "S-001"
	if _, err := svc.Update(context.Background(), b.ID, UpdateRequest{StudentID: &taken}); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, repo := newTestService()
	st := mustCreate(t, svc, "Asha", "S-001", "7")
	if err := svc.Delete(context.Background(), st.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.store[st.ID]; ok {
		t.Error("expected student to be removed")
	}
	if err := svc.Delete(context.Background(), st.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestDelete_WithVaccinations(t *testing.T) {
	svc, repo := newTestService()
	st := mustCreate(t, svc, "Asha", "S-001", "7")
	repo.vaccinated[st.ID] = true

	err := svc.Delete(context.Background(), st.ID)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, ok := repo.store[st.ID]; !ok {
		t.Error("student must be kept")
	}
}

func TestList_Filters(t *testing.T) {
	svc, repo := newTestService()
	a := mustCreate(t, svc, "Asha Rao", "S-001", "7")
	mustCreate(t, svc, "Ben Okafor", "S-002", "7")
	mustCreate(t, svc, "Chen Li", "S-003", "8")
	repo.vaccinated[a.ID] = true

	items, total, err := svc.List(context.Background(), ListFilter{Class: " 7 "}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 in class 7, got %d", total)
	}

	yes := true
	items, _, _ = svc.List(context.Background(), ListFilter{Vaccinated: &yes}, 20, 0)
	if len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("expected only the vaccinated student, got %v", items)
	}

	items, _, _ = svc.List(context.Background(), ListFilter{Search: "s-003"}, 20, 0)
	if len(items) != 1 || items[0].Name != "Chen Li" {
		t.Errorf("expected search by student ID, got %v", items)
	}
}
