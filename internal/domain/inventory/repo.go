package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/pkg/caldate"
)

type MaterialRepository interface {
	Create(ctx context.Context, m *Material) error
	GetByID(ctx context.Context, id uuid.UUID) (*Material, error)
	// GetForUpdate row-locks the material for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Material, error)
	// Update writes the descriptive fields; stock goes through SetStock.
	Update(ctx context.Context, m *Material) error
	SetStock(ctx context.Context, id uuid.UUID, quantity decimal.Decimal, expiry *caldate.Date) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter MaterialFilter, limit, offset int) ([]*Material, int, error)
	// LowStock lists active materials at or below their minimum quantity.
	LowStock(ctx context.Context) ([]*Material, error)
	// ExpiringBefore lists active materials whose expiry date is on or
	// before the given day.
	ExpiringBefore(ctx context.Context, day caldate.Date) ([]*Material, error)
}

type MovementRepository interface {
	Create(ctx context.Context, mv *Movement) error
	List(ctx context.Context, filter MovementFilter, limit, offset int) ([]*Movement, int, error)
	ExistsForMaterial(ctx context.Context, materialID uuid.UUID) (bool, error)
}
