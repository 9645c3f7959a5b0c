package reporting

import (
	"context"
	"time"

	"github.com/medlab/lims/pkg/caldate"
)

// Source reads the raw rows reports are built from. Time arguments form a
// half-open interval [from, to).
type Source interface {
	PatientCounts(ctx context.Context, since time.Time) (total, recent int, err error)
	AssignmentStatuses(ctx context.Context) ([]string, error)
	SampleStatuses(ctx context.Context) ([]string, error)
	OpenInvoices(ctx context.Context) ([]InvoiceRow, error)
	LowStockCount(ctx context.Context) (int, error)
	QueueWaiting(ctx context.Context, day caldate.Date) (int, error)

	Invoices(ctx context.Context, from, to time.Time) ([]InvoiceRow, error)
	Payments(ctx context.Context, from, to time.Time) ([]PaymentRow, error)
	Assignments(ctx context.Context, from, to time.Time) ([]AssignmentRow, error)
	TestItems(ctx context.Context, from, to time.Time) ([]TestItemRow, error)
	Movements(ctx context.Context, from, to time.Time) ([]MovementRow, error)
}
