package drive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/internal/platform/metrics"
	"github.com/vaxportal/vaxportal/pkg/apperrors"
	"github.com/vaxportal/vaxportal/pkg/calendar"
)

var (
	errNotFound        = apperrors.NotFound("drive_not_found", "Vaccination drive not found")
	errMissingFields   = apperrors.Validation("missing_fields", "Name, date, available doses and applicable classes are required")
	errInvalidDoses    = apperrors.Validation("invalid_doses", "Available doses must be a positive integer")
	errNoClasses       = apperrors.Validation("no_applicable_classes", "At least one applicable class is required")
	errBlankName       = apperrors.Validation("missing_name", "Drive name cannot be empty")
	errTooSoon         = apperrors.Validation("insufficient_notice", fmt.Sprintf("Vaccination drives must be scheduled at least %d days in advance", MinLeadDays))
	errDateTaken       = apperrors.Conflict("drive_date_taken", "A vaccination drive is already scheduled on this date")
	errEditPast        = apperrors.Validation("past_drive_edit", "Cannot edit past drives")
	errDeletePast      = apperrors.Validation("past_drive_delete", "Cannot delete past drives")
	errHasVaccinations = apperrors.Conflict("drive_has_vaccinations", "Cannot delete a drive with recorded vaccinations")
)

type Service struct {
	drives         Repository
	tx             db.Transactor
	clock          calendar.Clock
	upcomingWindow int
}

func NewService(drives Repository, tx db.Transactor, clock calendar.Clock, upcomingWindowDays int) *Service {
	return &Service{drives: drives, tx: tx, clock: clock, upcomingWindow: upcomingWindowDays}
}

// Create schedules a drive at least MinLeadDays ahead on a free date.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Drive, error) {
	d, err := s.create(ctx, req)
	if err != nil {
		return nil, reject("create_drive", err)
	}
	metrics.DrivesScheduled.Inc()
	return d, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Drive, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Date.Ptr() == nil || req.AvailableDoses == nil || req.ApplicableClasses == nil {
		return nil, errMissingFields
	}
	if !req.AvailableDoses.Valid || req.AvailableDoses.Value <= 0 {
		return nil, errInvalidDoses
	}
	classes := req.ApplicableClasses.Normalized()
	if len(classes) == 0 {
		return nil, errNoClasses
	}

	d := &Drive{
		Name:              name,
		Date:              *req.Date.Ptr(),
		AvailableDoses:    req.AvailableDoses.Value,
		ApplicableClasses: classes.String(),
	}
	if err := s.checkLeadTime(d.Date); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkDateFree(ctx, d.Date, uuid.Nil); err != nil {
			return err
		}
		if err := s.drives.Create(ctx, d); err != nil {
			if db.IsUniqueViolation(err, constraintDriveDate) {
				return errDateTaken
			}
			return fmt.Errorf("create drive: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Drive, error) {
	d, err := s.drives.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// Update edits a drive that has not yet taken place. A new date must again
// respect the lead time and must not collide with another drive.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Drive, error) {
	var out *Drive
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		d, err := s.drives.GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if d.IsPast(s.clock.Today()) {
			return errEditPast
		}

		if day := req.Date.Ptr(); day != nil && !day.Equal(calendar.Day(d.Date)) {
			if err := s.checkLeadTime(*day); err != nil {
				return err
			}
			if err := s.checkDateFree(ctx, *day, d.ID); err != nil {
				return err
			}
			d.Date = *day
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return errBlankName
			}
			d.Name = name
		}
		if req.ApplicableClasses != nil {
			classes := req.ApplicableClasses.Normalized()
			if len(classes) == 0 {
				return errNoClasses
			}
			d.ApplicableClasses = classes.String()
		}

		if err := s.drives.Update(ctx, d); err != nil {
			if db.IsUniqueViolation(err, constraintDriveDate) {
				return errDateTaken
			}
			return notFound(err)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, reject("update_drive", err)
	}
	return out, nil
}

// Delete removes a future or current drive with no recorded vaccinations.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		d, err := s.drives.GetByIDForUpdate(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if d.IsPast(s.clock.Today()) {
			return errDeletePast
		}
		has, err := s.drives.HasVaccinations(ctx, id)
		if err != nil {
			return fmt.Errorf("check vaccinations: %w", err)
		}
		if has {
			return errHasVaccinations
		}
		if err := s.drives.Delete(ctx, id); err != nil {
			if db.IsForeignKeyViolation(err, constraintVaccinationFKey) {
				return errHasVaccinations
			}
			return notFound(err)
		}
		return nil
	})
	return reject("delete_drive", err)
}

// List pages through drives in date order. upcomingOnly keeps drives from
// today onwards.
func (s *Service) List(ctx context.Context, upcomingOnly bool, search string, limit, offset int) ([]*Drive, int, error) {
	f := ListFilter{Search: strings.TrimSpace(search)}
	if upcomingOnly {
		today := s.clock.Today()
		f.From = &today
	}
	return s.drives.List(ctx, f, limit, offset)
}

// Upcoming returns drives from today through the configured window.
func (s *Service) Upcoming(ctx context.Context) ([]*Drive, error) {
	from, to := s.UpcomingWindow()
	items, _, err := s.drives.List(ctx, ListFilter{From: &from, To: &to}, 0, 0)
	return items, err
}

// UpcomingWindow returns the first and last day counted as upcoming.
func (s *Service) UpcomingWindow() (time.Time, time.Time) {
	today := s.clock.Today()
	return today, calendar.AddDays(today, s.upcomingWindow)
}

func (s *Service) checkLeadTime(day time.Time) error {
	if calendar.Day(day).Before(calendar.AddDays(s.clock.Today(), MinLeadDays)) {
		return errTooSoon
	}
	return nil
}

func (s *Service) checkDateFree(ctx context.Context, day time.Time, self uuid.UUID) error {
	existing, err := s.drives.GetByDate(ctx, day)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check drive date: %w", err)
	case existing.ID != self:
		return errDateTaken
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return errNotFound
	}
	return err
}

func reject(operation string, err error) error {
	if apperrors.IsExpected(err) {
		metrics.Reject(operation, apperrors.Code(err))
	}
	return err
}
