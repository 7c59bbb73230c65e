package reporting

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vaxportal/vaxportal/internal/platform/export"
	"github.com/vaxportal/vaxportal/internal/platform/metrics"
	"github.com/vaxportal/vaxportal/pkg/apperrors"
	"github.com/vaxportal/vaxportal/pkg/calendar"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var errDateRange = apperrors.Validation("invalid_date_range", "From date cannot be after to date")

var reportHeader = []string{"Student Name", "Student ID", "Class", "Vaccine", "Drive Date", "Vaccination Date"}

type Service struct {
	repo           Repository
	clock          calendar.Clock
	upcomingWindow int
}

func NewService(repo Repository, clock calendar.Clock, upcomingWindowDays int) *Service {
	return &Service{repo: repo, clock: clock, upcomingWindow: upcomingWindowDays}
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	c, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard counts: %w", err)
	}
	today := s.clock.Today()
	upcoming, err := s.repo.UpcomingDrives(ctx, today, calendar.AddDays(today, s.upcomingWindow))
	if err != nil {
		return nil, fmt.Errorf("upcoming drives: %w", err)
	}
	if upcoming == nil {
		upcoming = []DriveSummary{}
	}
	return &Dashboard{
		TotalStudents:         c.TotalStudents,
		VaccinatedStudents:    c.VaccinatedStudents,
		VaccinationPercentage: percentage(c.VaccinatedStudents, c.TotalStudents),
		TotalDrives:           c.TotalDrives,
		TotalDosesAvailable:   c.TotalDosesAvailable,
		UpcomingDrives:        upcoming,
	}, nil
}

func (s *Service) Report(ctx context.Context, f Filter, limit, offset int) ([]Row, int, error) {
	f, err := normalize(f)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.Vaccinations(ctx, f, limit, offset)
}

// Export renders every row matching f as a workbook and returns it with its
// download file name.
func (s *Service) Export(ctx context.Context, f Filter) (string, []byte, error) {
	f, err := normalize(f)
	if err != nil {
		return "", nil, err
	}
	rows, total, err := s.repo.Vaccinations(ctx, f, 0, 0)
	if err != nil {
		return "", nil, fmt.Errorf("load report: %w", err)
	}

	detail := export.Sheet{Title: "Vaccinations", Header: reportHeader}
	for _, r := range rows {
		detail.Rows = append(detail.Rows, []interface{}{
			r.StudentName, r.StudentID, r.Class, r.VaccineName,
			r.DriveDate.Format(calendar.Layout), r.VaccinationDate.Format(calendar.Layout),
		})
	}
	today := s.clock.Today()
	summary := export.Sheet{
		Title:  "Summary",
		Header: []string{"Filter", "Value"},
		Rows: [][]interface{}{
			{"Generated", today.Format(calendar.Layout)},
			{"Vaccine", orAll(f.Vaccine)},
			{"Class", orAll(f.Class)},
			{"From", dayOrAll(f.From)},
			{"To", dayOrAll(f.To)},
			{"Records", total},
		},
	}

	wb, err := export.Workbook(detail, summary)
	if err != nil {
		return "", nil, err
	}
	defer wb.Close()
	data, err := export.Bytes(wb)
	if err != nil {
		return "", nil, err
	}
	metrics.ReportExports.Inc()
	return fmt.Sprintf("vaccination-report-%s.xlsx", today.Format(calendar.Layout)), data, nil
}

func normalize(f Filter) (Filter, error) {
	f.Vaccine = strings.TrimSpace(f.Vaccine)
	f.Class = strings.TrimSpace(f.Class)
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return f, errDateRange
	}
	return f, nil
}

// percentage rounds to two decimals; an empty school is 0%.
func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}

func orAll(s string) string {
	if s == "" {
		return "All"
	}
	return s
}

func dayOrAll(t *time.Time) string {
	if t == nil {
		return "All"
	}
	return t.Format(calendar.Layout)
}
