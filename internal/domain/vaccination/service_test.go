package vaccination

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vaxportal/vaxportal/internal/domain/drive"
	"github.com/vaxportal/vaxportal/internal/domain/student"
	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/pkg/apperrors"
	"github.com/vaxportal/vaxportal/pkg/calendar"
)

// =========== Mocks ===========

// memDB holds students, drives and vaccinations in memory. memTx serializes
// units of work on mu and rolls the maps back when fn fails, standing in for
// the drive row lock and the transaction.
type memDB struct {
	mu           sync.Mutex
	students     map[uuid.UUID]*student.Student
	drives       map[uuid.UUID]*drive.Drive
	vaccinations map[uuid.UUID]*Vaccination
	consumeErr   error
}

func newMemDB() *memDB {
	return &memDB{
		students:     make(map[uuid.UUID]*student.Student),
		drives:       make(map[uuid.UUID]*drive.Drive),
		vaccinations: make(map[uuid.UUID]*Vaccination),
	}
}

type memSnapshot struct {
	drives       map[uuid.UUID]drive.Drive
	vaccinations map[uuid.UUID]Vaccination
}

func (m *memDB) snapshot() memSnapshot {
	s := memSnapshot{drives: map[uuid.UUID]drive.Drive{}, vaccinations: map[uuid.UUID]Vaccination{}}
	for id, d := range m.drives {
		s.drives[id] = *d
	}
	for id, v := range m.vaccinations {
		s.vaccinations[id] = *v
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.drives = make(map[uuid.UUID]*drive.Drive)
	for id, d := range s.drives {
		cp := d
		m.drives[id] = &cp
	}
	m.vaccinations = make(map[uuid.UUID]*Vaccination)
	for id, v := range s.vaccinations {
		cp := v
		m.vaccinations[id] = &cp
	}
}

type memTx struct{ db *memDB }

func (t memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	snap := t.db.snapshot()
	if err := fn(ctx); err != nil {
		t.db.restore(snap)
		return err
	}
	return nil
}

type memStudents struct{ db *memDB }

func (r memStudents) GetByID(_ context.Context, id uuid.UUID) (*student.Student, error) {
	s, ok := r.db.students[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type memDrives struct{ db *memDB }

func (r memDrives) GetByIDForUpdate(_ context.Context, id uuid.UUID) (*drive.Drive, error) {
	d, ok := r.db.drives[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r memDrives) ConsumeDose(_ context.Context, id uuid.UUID) (bool, error) {
	if r.db.consumeErr != nil {
		return false, r.db.consumeErr
	}
	d, ok := r.db.drives[id]
	if !ok || d.AvailableDoses <= 0 {
		return false, nil
	}
	d.AvailableDoses--
	return true, nil
}

func (r memDrives) RestoreDose(_ context.Context, id uuid.UUID) error {
	if d, ok := r.db.drives[id]; ok {
		d.AvailableDoses++
	}
	return nil
}

type memVaccinations struct{ db *memDB }

func (r memVaccinations) pairTaken(v *Vaccination) bool {
	for id, existing := range r.db.vaccinations {
		if id != v.ID && existing.StudentID == v.StudentID && existing.DriveID == v.DriveID {
			return true
		}
	}
	return false
}

func (r memVaccinations) Create(_ context.Context, v *Vaccination) error {
	if r.pairTaken(v) {
		return &pgconn.PgError{Code: "23505", ConstraintName: constraintStudentDrive}
	}
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	r.db.vaccinations[v.ID] = &cp
	return nil
}

func (r memVaccinations) GetByID(_ context.Context, id uuid.UUID) (*Vaccination, error) {
	v, ok := r.db.vaccinations[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r memVaccinations) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	return r.GetByID(ctx, id)
}

func (r memVaccinations) FindByStudentAndDrive(_ context.Context, studentID, driveID uuid.UUID) (*Vaccination, error) {
	for _, v := range r.db.vaccinations {
		if v.StudentID == studentID && v.DriveID == driveID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (r memVaccinations) Update(_ context.Context, v *Vaccination) error {
	if _, ok := r.db.vaccinations[v.ID]; !ok {
		return db.ErrNotFound
	}
	if r.pairTaken(v) {
		return &pgconn.PgError{Code: "23505", ConstraintName: constraintStudentDrive}
	}
	cp := *v
	r.db.vaccinations[v.ID] = &cp
	return nil
}

func (r memVaccinations) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.db.vaccinations[id]; !ok {
		return db.ErrNotFound
	}
	delete(r.db.vaccinations, id)
	return nil
}

func (r memVaccinations) List(_ context.Context, f ListFilter, limit, offset int) ([]*Vaccination, int, error) {
	var all []*Vaccination
	for _, v := range r.db.vaccinations {
		if f.StudentID != nil && v.StudentID != *f.StudentID {
			continue
		}
		if f.DriveID != nil && v.DriveID != *f.DriveID {
			continue
		}
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
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

var today = time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memDB) {
	m := newMemDB()
	svc := NewService(memVaccinations{m}, memStudents{m}, memDrives{m}, memTx{m}, calendar.Fixed(today))
	return svc, m
}

func (m *memDB) addStudent(name, class string) *student.Student {
	s := &student.Student{ID: uuid.New(), Name: name, StudentID: "S-" + name, Class: class}
	m.students[s.ID] = s
	return s
}

func (m *memDB) addDrive(name string, offsetDays, doses int, classes string) *drive.Drive {
	d := &drive.Drive{ID: uuid.New(), Name: name, Date: calendar.AddDays(today, offsetDays), AvailableDoses: doses, ApplicableClasses: classes}
	m.drives[d.ID] = d
	return d
}

func (m *memDB) doses(id uuid.UUID) int {
	return m.drives[id].AvailableDoses
}

func record(s *student.Student, d *drive.Drive, day *time.Time) CreateRequest {
	req := CreateRequest{StudentID: s.ID.String(), DriveID: d.ID.String()}
	if day != nil {
		cd := calendar.NewDate(*day)
		req.VaccinationDate = &cd
	}
	return req
}

func dayPtr(offset int) *time.Time {
	t := calendar.AddDays(today, offset)
	return &t
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if got := apperrors.Code(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

// =========== Scenarios ===========

func TestScenario_RecordDuplicateDelete(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Drive A", -5, 1, "5")
	s := m.addStudent("S", "5")
	ctx := context.Background()

	v, err := svc.Create(ctx, record(s, d, dayPtr(0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.doses(d.ID) != 0 {
		t.Fatalf("expected 0 doses, got %d", m.doses(d.ID))
	}

	_, err = svc.Create(ctx, record(s, d, dayPtr(0)))
	if apperrors.HTTPStatus(err) != 400 {
		t.Fatalf("expected a 400 for the second attempt, got %v", err)
	}
	if len(m.vaccinations) != 1 || m.doses(d.ID) != 0 {
		t.Fatal("a rejected attempt must not change state")
	}

	if err := svc.Delete(ctx, v.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.doses(d.ID) != 1 {
		t.Errorf("expected dose restored to 1, got %d", m.doses(d.ID))
	}
}

func TestScenario_FutureDrive(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Drive B", 5, 10, "5")
	s := m.addStudent("S", "5")

	_, err := svc.Create(context.Background(), record(s, d, nil))
	if err == nil || err.Error() != "Cannot record vaccinations for future drives" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestScenario_NoDoses(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Drive C", -1, 0, "5")
	s := m.addStudent("S", "5")

	_, err := svc.Create(context.Background(), record(s, d, nil))
	if err == nil || err.Error() != "No doses available for this vaccination drive" {
		t.Fatalf("unexpected error %v", err)
	}
}

// =========== Create ===========

func TestCreate_DefaultsToToday(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", 0, 3, "5,6")
	s := m.addStudent("Asha", "6")

	v, err := svc.Create(context.Background(), record(s, d, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.VaccinationDate.Equal(today) {
		t.Errorf("expected today, got %s", v.VaccinationDate)
	}
	if v.StudentName != "Asha" || v.DriveName != "Polio" {
		t.Errorf("expected details, got %+v", v)
	}
	if m.doses(d.ID) != 2 {
		t.Errorf("expected 2 doses left, got %d", m.doses(d.ID))
	}
}

func TestCreate_RuleOrder(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()
	missing := uuid.New().String()

	// Student is checked before drive.
	_, err := svc.Create(ctx, CreateRequest{StudentID: missing, DriveID: missing})
	if err == nil || err.Error() != "Student not found" {
		t.Fatalf("expected Student not found, got %v", err)
	}

	s := m.addStudent("Asha", "5")
	_, err = svc.Create(ctx, CreateRequest{StudentID: s.ID.String(), DriveID: "not-a-uuid"})
	if err == nil || err.Error() != "Vaccination drive not found" {
		t.Fatalf("expected Vaccination drive not found, got %v", err)
	}

	// A future drive fails before an ineligible class or missing doses.
	future := m.addDrive("Future", 3, 0, "9")
	_, err = svc.Create(ctx, record(s, future, nil))
	expectCode(t, err, "future_drive")

	// Missing doses fail before class eligibility.
	empty := m.addDrive("Empty", -1, 0, "9")
	_, err = svc.Create(ctx, record(s, empty, nil))
	expectCode(t, err, "no_doses")
}

func TestCreate_MissingIDs(t *testing.T) {
	svc, _ := newTestService()
	for _, req := range []CreateRequest{{}, {StudentID: " ", DriveID: uuid.New().String()}, {StudentID: uuid.New().String()}} {
		_, err := svc.Create(context.Background(), req)
		expectCode(t, err, "missing_fields")
	}
}

func TestCreate_DateWindow(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -5, 10, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()

	_, err := svc.Create(ctx, record(s, d, dayPtr(-6)))
	if err == nil || err.Error() != "Vaccination date cannot be before the drive's start date" {
		t.Errorf("unexpected error %v", err)
	}
	_, err = svc.Create(ctx, record(s, d, dayPtr(1)))
	if err == nil || err.Error() != "Vaccination date cannot be in the future" {
		t.Errorf("unexpected error %v", err)
	}
	if m.doses(d.ID) != 10 || len(m.vaccinations) != 0 {
		t.Fatal("rejected attempts must not change state")
	}

	if _, err := svc.Create(ctx, record(s, d, dayPtr(-5))); err != nil {
		t.Errorf("drive day itself must be accepted, got %v", err)
	}
}

func TestCreate_Eligibility(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()
	s := m.addStudent("Asha", "8")

	d := m.addDrive("Polio", -1, 5, " 5, 6 ,")
	_, err := svc.Create(ctx, record(s, d, nil))
	want := "Student's class (8) is not eligible for this drive. Eligible classes: 5, 6"
	if err == nil || err.Error() != want {
		t.Fatalf("expected %q, got %v", want, err)
	}

	none := m.addDrive("Blank", -2, 5, " , ")
	_, err = svc.Create(ctx, record(s, none, nil))
	if err == nil || err.Error() != "No applicable classes defined for this drive" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -1, 5, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()

	if _, err := svc.Create(ctx, record(s, d, nil)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(ctx, record(s, d, nil))
	if !errors.Is(err, apperrors.ErrDuplicate) || err.Error() != "Student has already been vaccinated in this drive" {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if m.doses(d.ID) != 4 {
		t.Errorf("expected one dose consumed, got %d left", m.doses(d.ID))
	}
}

func TestCreate_RollsBackWhenDoseUpdateFails(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -1, 5, "5")
	s := m.addStudent("Asha", "5")
	m.consumeErr = errors.New("connection reset")

	_, err := svc.Create(context.Background(), record(s, d, nil))
	if err == nil || apperrors.IsExpected(err) {
		t.Fatalf("expected an unexpected error, got %v", err)
	}
	if len(m.vaccinations) != 0 || m.doses(d.ID) != 5 {
		t.Errorf("expected rollback, got %d records and %d doses", len(m.vaccinations), m.doses(d.ID))
	}
}

func TestCreate_ConcurrentLastDose(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -1, 1, "5")
	students := []*student.Student{m.addStudent("Asha", "5"), m.addStudent("Ben", "5")}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(students))
	)
	for i, s := range students {
		wg.Add(1)
		go func(i int, s *student.Student) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), record(s, d, nil))
		}(i, s)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.Code(err) != "no_doses":
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded)
	}
	if m.doses(d.ID) != 0 || len(m.vaccinations) != 1 {
		t.Errorf("expected 0 doses and 1 record, got %d and %d", m.doses(d.ID), len(m.vaccinations))
	}
}

// =========== Update ===========

func TestUpdate_SameDriveSkipsDoseCheck(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -5, 1, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()

	v, err := svc.Create(ctx, record(s, d, nil))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	day := calendar.NewDate(calendar.AddDays(today, -2))
	got, err := svc.Update(ctx, v.ID, UpdateRequest{VaccinationDate: &day})
	if err != nil {
		t.Fatalf("update with exhausted drive must pass, got %v", err)
	}
	if !got.VaccinationDate.Equal(day.Time) {
		t.Errorf("expected new date, got %s", got.VaccinationDate)
	}
	if m.doses(d.ID) != 0 {
		t.Errorf("doses must not change, got %d", m.doses(d.ID))
	}
}

func TestUpdate_RevalidatesDates(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -5, 3, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()
	v, _ := svc.Create(ctx, record(s, d, nil))

	early := calendar.NewDate(calendar.AddDays(today, -6))
	_, err := svc.Update(ctx, v.ID, UpdateRequest{VaccinationDate: &early})
	expectCode(t, err, "before_drive_date")

	late := calendar.NewDate(calendar.AddDays(today, 1))
	_, err = svc.Update(ctx, v.ID, UpdateRequest{VaccinationDate: &late})
	expectCode(t, err, "future_vaccination_date")
}

func TestUpdate_MoveBetweenDrives(t *testing.T) {
	svc, m := newTestService()
	a := m.addDrive("A", -5, 3, "5")
	b := m.addDrive("B", -3, 1, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()

	v, _ := svc.Create(ctx, record(s, a, nil))
	target := b.ID.String()
	got, err := svc.Update(ctx, v.ID, UpdateRequest{DriveID: &target})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DriveID != b.ID || got.DriveName != "B" {
		t.Errorf("expected record on drive B, got %+v", got)
	}
	if m.doses(a.ID) != 3 || m.doses(b.ID) != 0 {
		t.Errorf("expected doses A=3 B=0, got A=%d B=%d", m.doses(a.ID), m.doses(b.ID))
	}

	// Moving onto a drive with no doses is refused and leaves B untouched.
	c := m.addDrive("C", -2, 0, "5")
	other := c.ID.String()
	_, err = svc.Update(ctx, v.ID, UpdateRequest{DriveID: &other})
	expectCode(t, err, "no_doses")
	if m.doses(b.ID) != 0 || m.vaccinations[v.ID].DriveID != b.ID {
		t.Error("failed move must leave the record and doses unchanged")
	}
}

func TestUpdate_DuplicateExcludesSelf(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -5, 5, "5")
	asha := m.addStudent("Asha", "5")
	ben := m.addStudent("Ben", "5")
	ctx := context.Background()

	va, _ := svc.Create(ctx, record(asha, d, nil))
	if _, err := svc.Create(ctx, record(ben, d, nil)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Update(ctx, va.ID, UpdateRequest{}); err != nil {
		t.Errorf("resubmitting the same pair must pass, got %v", err)
	}
	benID := ben.ID.String()
	_, err := svc.Update(ctx, va.ID, UpdateRequest{StudentID: &benID})
	if !errors.Is(err, apperrors.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Update(context.Background(), uuid.New(), UpdateRequest{})
	if err == nil || err.Error() != "Vaccination record not found" {
		t.Fatalf("unexpected error %v", err)
	}
}

// =========== Delete ===========

func TestDelete_PastDriveRestoresDose(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -30, 2, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()

	v, _ := svc.Create(ctx, record(s, d, nil))
	if err := svc.Delete(ctx, v.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.doses(d.ID) != 2 {
		t.Errorf("expected exactly one dose restored, got %d", m.doses(d.ID))
	}
	if err := svc.Delete(ctx, v.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
	if m.doses(d.ID) != 2 {
		t.Errorf("second delete must not restore again, got %d", m.doses(d.ID))
	}
}

func TestDelete_MissingDrive(t *testing.T) {
	svc, m := newTestService()
	d := m.addDrive("Polio", -1, 2, "5")
	s := m.addStudent("Asha", "5")
	ctx := context.Background()

	v, _ := svc.Create(ctx, record(s, d, nil))
	delete(m.drives, d.ID)
	if err := svc.Delete(ctx, v.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.vaccinations) != 0 {
		t.Error("record must be removed")
	}
}

func TestList_Filters(t *testing.T) {
	svc, m := newTestService()
	a := m.addDrive("A", -2, 5, "5")
	b := m.addDrive("B", -1, 5, "5")
	asha := m.addStudent("Asha", "5")
	ben := m.addStudent("Ben", "5")
	ctx := context.Background()
	for _, req := range []CreateRequest{record(asha, a, nil), record(asha, b, nil), record(ben, b, nil)} {
		if _, err := svc.Create(ctx, req); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	_, total, _ := svc.List(ctx, ListFilter{StudentID: &asha.ID}, 20, 0)
	if total != 2 {
		t.Errorf("expected 2 for Asha, got %d", total)
	}
	_, total, _ = svc.List(ctx, ListFilter{DriveID: &b.ID}, 20, 0)
	if total != 2 {
		t.Errorf("expected 2 for drive B, got %d", total)
	}
	_, total, _ = svc.List(ctx, ListFilter{StudentID: &ben.ID, DriveID: &a.ID}, 20, 0)
	if total != 0 {
		t.Errorf("expected none, got %d", total)
	}
}
