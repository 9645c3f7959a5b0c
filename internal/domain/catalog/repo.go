package catalog

import (
	"context"

	"github.com/google/uuid"
)

type CategoryRepository interface {
	Create(ctx context.Context, c *Category) error
	GetByID(ctx context.Context, id uuid.UUID) (*Category, error)
	Update(ctx context.Context, c *Category) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Category, error)
	CountTests(ctx context.Context, id uuid.UUID) (int, error)
}

type TestRepository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter TestFilter, limit, offset int) ([]*LabTest, int, error)

	// IsReferenced reports whether assignments or invoice items point at
	// the test.
	IsReferenced(ctx context.Context, id uuid.UUID) (bool, error)
}
