// Package reporting serves the coordinator dashboard and the vaccination
// report, including its xlsx export.
package reporting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/pkg/calendar"
)

// Counts are the school-wide totals shown on the dashboard.
type Counts struct {
	TotalStudents       int
	VaccinatedStudents  int
	TotalDrives         int
	TotalDosesAvailable int
}

type Dashboard struct {
	TotalStudents         int            `json:"totalStudents"`
	VaccinatedStudents    int            `json:"vaccinatedStudents"`
	VaccinationPercentage float64        `json:"vaccinationPercentage"`
	TotalDrives           int            `json:"totalDrives"`
	TotalDosesAvailable   int            `json:"totalDosesAvailable"`
	UpcomingDrives        []DriveSummary `json:"upcomingDrives"`
}

type DriveSummary struct {
	ID                uuid.UUID     `json:"id"`
	Name              string        `json:"name"`
	Date              calendar.Date `json:"date"`
	AvailableDoses    int           `json:"availableDoses"`
	ApplicableClasses string        `json:"applicableClasses"`
}

// Row is one vaccination joined with its student and drive.
type Row struct {
	VaccinationID   uuid.UUID `json:"vaccinationId"`
	StudentName     string    `json:"studentName"`
	StudentID       string    `json:"studentId"`
	Class           string    `json:"class"`
	VaccineName     string    `json:"vaccineName"`
	DriveDate       time.Time `json:"driveDate"`
	VaccinationDate time.Time `json:"vaccinationDate"`
}

func (r Row) MarshalJSON() ([]byte, error) {
	type alias Row
	return json.Marshal(struct {
		alias
		DriveDate       calendar.Date `json:"driveDate"`
		VaccinationDate calendar.Date `json:"vaccinationDate"`
	}{alias(r), calendar.NewDate(r.DriveDate), calendar.NewDate(r.VaccinationDate)})
}

type Filter struct {
	// Vaccine matches drive names case-insensitively as a substring.
	Vaccine string
	Class   string
	From    *time.Time
	To      *time.Time
}

type Repository interface {
	Counts(ctx context.Context) (Counts, error)
	UpcomingDrives(ctx context.Context, from, to time.Time) ([]DriveSummary, error)
	// Vaccinations pages through report rows; limit <= 0 returns them all.
	Vaccinations(ctx context.Context, f Filter, limit, offset int) ([]Row, int, error)
}
