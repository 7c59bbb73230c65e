package vaccination

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/pkg/calendar"
)

// Vaccination records that a student received a dose in a drive. Its
// existence accounts for exactly one dose taken from the drive.
type Vaccination struct {
	ID              uuid.UUID `json:"id"`
	StudentID       uuid.UUID `json:"studentId"`
	DriveID         uuid.UUID `json:"driveId"`
	VaccinationDate time.Time `json:"vaccinationDate"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`

	// Read-side details joined from the student and drive.
	StudentName  string `json:"studentName,omitempty"`
	StudentClass string `json:"studentClass,omitempty"`
	DriveName    string `json:"driveName,omitempty"`
}

func (v Vaccination) MarshalJSON() ([]byte, error) {
	type alias Vaccination
	return json.Marshal(struct {
		alias
		VaccinationDate calendar.Date `json:"vaccinationDate"`
	}{alias(v), calendar.NewDate(v.VaccinationDate)})
}

type CreateRequest struct {
	StudentID       string         `json:"studentId"`
	DriveID         string         `json:"driveId"`
	VaccinationDate *calendar.Date `json:"vaccinationDate"`
}

// UpdateRequest keeps stored values for omitted fields.
type UpdateRequest struct {
	StudentID       *string        `json:"studentId"`
	DriveID         *string        `json:"driveId"`
	VaccinationDate *calendar.Date `json:"vaccinationDate"`
}

type ListFilter struct {
	StudentID *uuid.UUID
	DriveID   *uuid.UUID
}
