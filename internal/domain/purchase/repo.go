package purchase

import (
	"context"

	"github.com/google/uuid"
)

type PurchaseRepository interface {
	NextNumber(ctx context.Context) (int64, error)
	// Create inserts the purchase invoice and its items.
	Create(ctx context.Context, p *PurchaseInvoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error)
	// GetForUpdate row-locks the purchase invoice for the surrounding
	// transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error)
	// Update writes the header and replaces the items.
	Update(ctx context.Context, p *PurchaseInvoice) error
	SetStatus(ctx context.Context, p *PurchaseInvoice) error
	Items(ctx context.Context, purchaseID uuid.UUID) ([]*Item, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*PurchaseInvoice, int, error)
}
