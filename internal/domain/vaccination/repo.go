package vaccination

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaxportal/vaxportal/internal/domain/drive"
	"github.com/vaxportal/vaxportal/internal/domain/student"
)

type Repository interface {
	Create(ctx context.Context, v *Vaccination) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vaccination, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Vaccination, error)
	// FindByStudentAndDrive returns db.ErrNotFound when the pair has no record.
	FindByStudentAndDrive(ctx context.Context, studentID, driveID uuid.UUID) (*Vaccination, error)
	Update(ctx context.Context, v *Vaccination) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Vaccination, int, error)
}

// StudentFinder is the part of the student store the recorder reads.
type StudentFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*student.Student, error)
}

// DriveLedger is the part of the drive store that holds dose inventory.
type DriveLedger interface {
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*drive.Drive, error)
	ConsumeDose(ctx context.Context, id uuid.UUID) (bool, error)
	RestoreDose(ctx context.Context, id uuid.UUID) error
}
