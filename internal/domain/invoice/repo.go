package invoice

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	NextNumber(ctx context.Context) (int64, error)
	// Create inserts the invoice and its items.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate row-locks the invoice for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Invoice, int, error)
	Items(ctx context.Context, invoiceID uuid.UUID) ([]*Item, error)
	AddPayment(ctx context.Context, p *Payment) error
	Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
