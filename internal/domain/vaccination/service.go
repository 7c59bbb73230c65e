package vaccination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/internal/domain/drive"
	"github.com/vaxportal/vaxportal/internal/domain/student"
	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/internal/platform/metrics"
	"github.com/vaxportal/vaxportal/pkg/apperrors"
	"github.com/vaxportal/vaxportal/pkg/calendar"
)

var (
	errNotFound        = apperrors.NotFound("vaccination_not_found", "Vaccination record not found")
	errStudentNotFound = apperrors.NotFound("student_not_found", "Student not found")
	errDriveNotFound   = apperrors.NotFound("drive_not_found", "Vaccination drive not found")
	errMissingIDs      = apperrors.Validation("missing_fields", "Student ID and drive ID are required")
	errFutureDrive     = apperrors.Validation("future_drive", "Cannot record vaccinations for future drives")
	errBeforeDrive     = apperrors.Validation("before_drive_date", "Vaccination date cannot be before the drive's start date")
	errFutureDate      = apperrors.Validation("future_vaccination_date", "Vaccination date cannot be in the future")
	errNoDoses         = apperrors.Validation("no_doses", "No doses available for this vaccination drive")
	errNoClasses       = apperrors.Validation("no_applicable_classes", "No applicable classes defined for this drive")
	errDuplicate       = apperrors.Duplicate("duplicate_vaccination", "Student has already been vaccinated in this drive")
)

func errIneligible(class string, eligible []string) error {
	return apperrors.Validation("class_not_eligible", fmt.Sprintf(
		"Student's class (%s) is not eligible for this drive. Eligible classes: %s",
		class, strings.Join(eligible, ", ")))
}

// Service records vaccinations and keeps each drive's dose inventory in step
// with them. Every write runs in one transaction with the drive row locked.
type Service struct {
	vaccinations Repository
	students     StudentFinder
	drives       DriveLedger
	tx           db.Transactor
	clock        calendar.Clock
}

func NewService(vaccinations Repository, students StudentFinder, drives DriveLedger, tx db.Transactor, clock calendar.Clock) *Service {
	return &Service{vaccinations: vaccinations, students: students, drives: drives, tx: tx, clock: clock}
}

// attempt is one candidate record checked against the eligibility rules.
type attempt struct {
	student *student.Student
	drive   *drive.Drive
	day     time.Time
	// self is the record being updated, excluded from the duplicate check.
	self uuid.UUID
	// checkDoses is false when an update keeps its drive: the record's own
	// dose is already accounted for.
	checkDoses bool
}

// Create validates and records a vaccination, consuming one dose.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Vaccination, error) {
	var out *Vaccination
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		studentID, driveID, err := parseIDs(req.StudentID, req.DriveID)
		if err != nil {
			return err
		}
		st, err := s.findStudent(ctx, studentID)
		if err != nil {
			return err
		}
		d, err := s.lockDrive(ctx, driveID)
		if err != nil {
			return err
		}

		a := attempt{student: st, drive: d, day: s.clock.Today(), checkDoses: true}
		if day := req.VaccinationDate.Ptr(); day != nil {
			a.day = *day
		}
		if err := s.validate(ctx, a); err != nil {
			return err
		}

		v := &Vaccination{StudentID: st.ID, DriveID: d.ID, VaccinationDate: a.day}
		if err := s.vaccinations.Create(ctx, v); err != nil {
			return mapWriteError("create vaccination", err)
		}
		if err := s.consume(ctx, d.ID); err != nil {
			return err
		}
		out = withDetails(v, st, d)
		return nil
	})
	if err != nil {
		return nil, reject("create_vaccination", err)
	}
	metrics.VaccinationsRecorded.Inc()
	metrics.DosesConsumed.Inc()
	return out, nil
}

// Update revalidates the edited record. Moving a record to another drive
// returns its dose to the old drive and takes one from the new drive.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Vaccination, error) {
	var (
		out   *Vaccination
		moved bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		v, err := s.vaccinations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound(err, errNotFound)
		}

		studentID, driveID := v.StudentID.String(), v.DriveID.String()
		if req.StudentID != nil {
			studentID = *req.StudentID
		}
		if req.DriveID != nil {
			driveID = *req.DriveID
		}
		newStudent, newDrive, err := parseIDs(studentID, driveID)
		if err != nil {
			return err
		}

		st, err := s.findStudent(ctx, newStudent)
		if err != nil {
			return err
		}
		moved = newDrive != v.DriveID
		var d *drive.Drive
		if moved {
			d, err = s.lockPair(ctx, v.DriveID, newDrive)
		} else {
			d, err = s.lockDrive(ctx, newDrive)
		}
		if err != nil {
			return err
		}

		a := attempt{student: st, drive: d, day: v.VaccinationDate, self: v.ID, checkDoses: moved}
		if day := req.VaccinationDate.Ptr(); day != nil {
			a.day = *day
		}
		if err := s.validate(ctx, a); err != nil {
			return err
		}

		oldDrive := v.DriveID
		v.StudentID, v.DriveID, v.VaccinationDate = st.ID, d.ID, a.day
		if err := s.vaccinations.Update(ctx, v); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return errNotFound
			}
			return mapWriteError("update vaccination", err)
		}
		if moved {
			if err := s.drives.RestoreDose(ctx, oldDrive); err != nil {
				return fmt.Errorf("restore dose: %w", err)
			}
			if err := s.consume(ctx, d.ID); err != nil {
				return err
			}
		}
		out = withDetails(v, st, d)
		return nil
	})
	if err != nil {
		return nil, reject("update_vaccination", err)
	}
	metrics.VaccinationsUpdated.Inc()
	if moved {
		metrics.DosesRestored.Inc()
		metrics.DosesConsumed.Inc()
	}
	return out, nil
}

// Delete removes a record and returns its dose to the drive. Deletion is
// allowed whatever the drive's date.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var restored bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		v, err := s.vaccinations.GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound(err, errNotFound)
		}
		_, err = s.drives.GetByIDForUpdate(ctx, v.DriveID)
		found := err == nil
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("lock drive: %w", err)
		}

		if err := s.vaccinations.Delete(ctx, id); err != nil {
			return notFound(err, errNotFound)
		}
		if found {
			if err := s.drives.RestoreDose(ctx, v.DriveID); err != nil {
				return fmt.Errorf("restore dose: %w", err)
			}
			restored = true
		}
		return nil
	})
	if err != nil {
		return reject("delete_vaccination", err)
	}
	metrics.VaccinationsDeleted.Inc()
	if restored {
		metrics.DosesRestored.Inc()
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	v, err := s.vaccinations.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, errNotFound)
	}
	return v, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Vaccination, int, error) {
	return s.vaccinations.List(ctx, f, limit, offset)
}

// validate applies the eligibility rules in order and stops at the first
// failure. It does not write.
func (s *Service) validate(ctx context.Context, a attempt) error {
	today := s.clock.Today()
	driveDay := calendar.Day(a.drive.Date)
	day := calendar.Day(a.day)

	if driveDay.After(today) {
		return errFutureDrive
	}
	if day.Before(driveDay) {
		return errBeforeDrive
	}
	if day.After(today) {
		return errFutureDate
	}
	if a.checkDoses && a.drive.AvailableDoses <= 0 {
		return errNoDoses
	}

	classes := a.drive.Classes()
	if len(classes) == 0 {
		return errNoClasses
	}
	if !contains(classes, strings.TrimSpace(a.student.Class)) {
		return errIneligible(a.student.Class, classes)
	}

	existing, err := s.vaccinations.FindByStudentAndDrive(ctx, a.student.ID, a.drive.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check duplicate: %w", err)
	case existing.ID != a.self:
		return errDuplicate
	}
	return nil
}

func (s *Service) findStudent(ctx context.Context, id uuid.UUID) (*student.Student, error) {
	if id == uuid.Nil {
		return nil, errStudentNotFound
	}
	st, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, errStudentNotFound)
	}
	return st, nil
}

func (s *Service) lockDrive(ctx context.Context, id uuid.UUID) (*drive.Drive, error) {
	if id == uuid.Nil {
		return nil, errDriveNotFound
	}
	d, err := s.drives.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, notFound(err, errDriveNotFound)
	}
	return d, nil
}

// lockPair locks both drives in id order and returns the target.
func (s *Service) lockPair(ctx context.Context, from, to uuid.UUID) (*drive.Drive, error) {
	if bytes.Compare(from[:], to[:]) < 0 {
		if _, err := s.drives.GetByIDForUpdate(ctx, from); err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("lock drive: %w", err)
		}
		return s.lockDrive(ctx, to)
	}
	d, err := s.lockDrive(ctx, to)
	if err != nil {
		return nil, err
	}
	if _, err := s.drives.GetByIDForUpdate(ctx, from); err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("lock drive: %w", err)
	}
	return d, nil
}

func (s *Service) consume(ctx context.Context, driveID uuid.UUID) error {
	ok, err := s.drives.ConsumeDose(ctx, driveID)
	if err != nil {
		return fmt.Errorf("consume dose: %w", err)
	}
	if !ok {
		return errNoDoses
	}
	return nil
}

// parseIDs treats a blank id as missing and an unparsable one as unknown.
func parseIDs(studentID, driveID string) (uuid.UUID, uuid.UUID, error) {
	studentID, driveID = strings.TrimSpace(studentID), strings.TrimSpace(driveID)
	if studentID == "" || driveID == "" {
		return uuid.Nil, uuid.Nil, errMissingIDs
	}
	sid, err := uuid.Parse(studentID)
	if err != nil {
		sid = uuid.Nil
	}
	did, err := uuid.Parse(driveID)
	if err != nil {
		did = uuid.Nil
	}
	return sid, did, nil
}

func mapWriteError(op string, err error) error {
	switch {
	case db.IsUniqueViolation(err, constraintStudentDrive):
		return errDuplicate
	case db.IsForeignKeyViolation(err, constraintStudentFKey):
		return errStudentNotFound
	case db.IsForeignKeyViolation(err, constraintDriveFKey):
		return errDriveNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func withDetails(v *Vaccination, st *student.Student, d *drive.Drive) *Vaccination {
	v.StudentName, v.StudentClass, v.DriveName = st.Name, st.Class, d.Name
	return v
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func notFound(err, mapped error) error {
	if errors.Is(err, db.ErrNotFound) {
		return mapped
	}
	return err
}

func reject(operation string, err error) error {
	if apperrors.IsExpected(err) {
		metrics.Reject(operation, apperrors.Code(err))
	}
	return err
}
