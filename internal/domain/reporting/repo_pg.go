package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/pkg/caldate"
)

type sourcePG struct {
	pool *pgxpool.Pool
}

func NewSource(pool *pgxpool.Pool) Source {
	return &sourcePG{pool: pool}
}

func (r *sourcePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func collect[T any](ctx context.Context, q db.Querier, what, sql string, scan func(pgx.CollectableRow) (T, error), args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func (r *sourcePG) PatientCounts(ctx context.Context, since time.Time) (int, int, error) {
	var total, recent int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1) FROM patients`, since).Scan(&total, &recent)
	if err != nil {
		return 0, 0, fmt.Errorf("count patients: %w", err)
	}
	return total, recent, nil
}

func (r *sourcePG) AssignmentStatuses(ctx context.Context) ([]string, error) {
	return collect(ctx, r.conn(ctx), "assignment statuses",
		`SELECT status FROM test_assignments`, pgx.RowTo[string])
}

func (r *sourcePG) SampleStatuses(ctx context.Context) ([]string, error) {
	return collect(ctx, r.conn(ctx), "sample statuses",
		`SELECT status FROM samples`, pgx.RowTo[string])
}

func scanInvoice(row pgx.CollectableRow) (InvoiceRow, error) {
	var v InvoiceRow
	err := row.Scan(&v.CreatedAt, &v.Total, &v.Paid, &v.Status)
	return v, err
}

func (r *sourcePG) OpenInvoices(ctx context.Context) ([]InvoiceRow, error) {
	return collect(ctx, r.conn(ctx), "open invoices", `
		SELECT created_at, total, paid_amount, status FROM patient_invoices
		WHERE status IN ('unpaid', 'partial')`, scanInvoice)
}

func (r *sourcePG) LowStockCount(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM materials WHERE active AND quantity <= min_quantity`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count low stock: %w", err)
	}
	return n, nil
}

func (r *sourcePG) QueueWaiting(ctx context.Context, day caldate.Date) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE queue_date = $1 AND status = 'waiting'`, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}

func (r *sourcePG) Invoices(ctx context.Context, from, to time.Time) ([]InvoiceRow, error) {
	return collect(ctx, r.conn(ctx), "invoices", `
		SELECT created_at, total, paid_amount, status FROM patient_invoices
		WHERE status <> 'cancelled' AND created_at >= $1 AND created_at < $2`, scanInvoice, from, to)
}

func (r *sourcePG) Payments(ctx context.Context, from, to time.Time) ([]PaymentRow, error) {
	return collect(ctx, r.conn(ctx), "payments", `
		SELECT paid_at, amount, method FROM payments
		WHERE paid_at >= $1 AND paid_at < $2`,
		func(row pgx.CollectableRow) (PaymentRow, error) {
			var v PaymentRow
			err := row.Scan(&v.PaidAt, &v.Amount, &v.Method)
			return v, err
		}, from, to)
}

func (r *sourcePG) Assignments(ctx context.Context, from, to time.Time) ([]AssignmentRow, error) {
	return collect(ctx, r.conn(ctx), "assignments", `
		SELECT a.test_id, t.code, t.name, a.status, a.is_abnormal, a.created_at, a.completed_at
		FROM test_assignments a JOIN lab_tests t ON t.id = a.test_id
		WHERE a.created_at >= $1 AND a.created_at < $2`,
		func(row pgx.CollectableRow) (AssignmentRow, error) {
			var v AssignmentRow
			err := row.Scan(&v.TestID, &v.TestCode, &v.TestName, &v.Status, &v.IsAbnormal, &v.CreatedAt, &v.CompletedAt)
			return v, err
		}, from, to)
}

func (r *sourcePG) TestItems(ctx context.Context, from, to time.Time) ([]TestItemRow, error) {
	return collect(ctx, r.conn(ctx), "invoice test items", `
		SELECT it.test_id, t.code, t.name, it.line_total
		FROM patient_invoice_items it
		JOIN patient_invoices i ON i.id = it.invoice_id
		JOIN lab_tests t ON t.id = it.test_id
		WHERE it.test_id IS NOT NULL AND i.status <> 'cancelled'
		  AND i.created_at >= $1 AND i.created_at < $2`,
		func(row pgx.CollectableRow) (TestItemRow, error) {
			var v TestItemRow
			err := row.Scan(&v.TestID, &v.TestCode, &v.TestName, &v.LineTotal)
			return v, err
		}, from, to)
}

func (r *sourcePG) Movements(ctx context.Context, from, to time.Time) ([]MovementRow, error) {
	return collect(ctx, r.conn(ctx), "stock movements", `
		SELECT m.material_id, mt.code, mt.name, mt.unit, m.reason, m.change
		FROM stock_movements m JOIN materials mt ON mt.id = m.material_id
		WHERE m.created_at >= $1 AND m.created_at < $2`,
		func(row pgx.CollectableRow) (MovementRow, error) {
			var v MovementRow
			err := row.Scan(&v.MaterialID, &v.MaterialCode, &v.MaterialName, &v.Unit, &v.Reason, &v.Change)
			return v, err
		}, from, to)
}
