package drive

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Drive) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drive, error)
	// GetByIDForUpdate reads the drive and locks its row until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Drive, error)
	GetByDate(ctx context.Context, day time.Time) (*Drive, error)
	Update(ctx context.Context, d *Drive) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Drive, int, error)
	HasVaccinations(ctx context.Context, id uuid.UUID) (bool, error)
	// ConsumeDose takes one dose if any remain and reports whether it did.
	ConsumeDose(ctx context.Context, id uuid.UUID) (bool, error)
	RestoreDose(ctx context.Context, id uuid.UUID) error
}
