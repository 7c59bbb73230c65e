package student

import (
	"time"

	"github.com/google/uuid"
)

// Student is a roster entry. Class is a free-form label such as "7" and is
// what drive eligibility is matched against.
type Student struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	StudentID string    `json:"studentId"`
	Class     string    `json:"class"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateRequest struct {
	Name      string `json:"name"`
	StudentID string `json:"studentId"`
	Class     string `json:"class"`
}

// UpdateRequest changes only the fields that are present.
type UpdateRequest struct {
	Name      *string `json:"name"`
	StudentID *string `json:"studentId"`
	Class     *string `json:"class"`
}

// ListFilter narrows the roster. Search matches name or student ID.
type ListFilter struct {
	Search     string
	Class      string
	Vaccinated *bool
}
