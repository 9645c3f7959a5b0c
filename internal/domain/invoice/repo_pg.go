package invoice

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
)

type invoiceRepoPG struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool}
}

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	invoiceFrom = `patient_invoices i JOIN patients p ON p.id = i.patient_id`
	invoiceCols = `i.id, i.number, i.patient_id, i.subtotal, i.discount_percent, i.discount_amount,
	i.total, i.paid_amount, i.status, i.notes, i.cancel_reason, i.cancelled_at, i.created_by,
	i.created_at, i.updated_at, p.code, p.first_name || ' ' || p.last_name`
)

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.Subtotal, &inv.DiscountPercent, &inv.DiscountAmount,
		&inv.Total, &inv.PaidAmount, &inv.Status, &inv.Notes, &inv.CancelReason, &inv.CancelledAt, &inv.CreatedBy,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.PatientCode, &inv.PatientName)
	if err != nil {
		return nil, err
	}
	inv.refreshBalance()
	return &inv, nil
}

func (r *invoiceRepoPG) NextNumber(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return seq, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO patient_invoices (id, number, patient_id, subtotal, discount_percent, discount_amount,
			total, paid_amount, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		inv.ID, inv.Number, inv.PatientID, inv.Subtotal, inv.DiscountPercent, inv.DiscountAmount,
		inv.Total, inv.PaidAmount, inv.Status, inv.Notes, inv.CreatedBy,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "invoice")
	}

	for i, it := range inv.Items {
		it.ID = uuid.New()
		it.InvoiceID = inv.ID
		_, err := q.Exec(ctx, `
			INSERT INTO patient_invoice_items (id, invoice_id, position, test_id, description, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			it.ID, it.InvoiceID, i+1, it.TestID, it.Description, it.Quantity, it.UnitPrice, it.LineTotal)
		if err != nil {
			return apperr.FromDB(err, "invoice item")
		}
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM `+invoiceFrom+` WHERE i.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "invoice")
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM `+invoiceFrom+` WHERE i.id = $1 FOR UPDATE OF i`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "invoice")
	}
	return inv, nil
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_invoices SET
			paid_amount = $2, status = $3, cancel_reason = $4, cancelled_at = $5, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		inv.ID, inv.PaidAmount, inv.Status, inv.CancelReason, inv.CancelledAt,
	).Scan(&inv.UpdatedAt)
	return apperr.FromDB(err, "invoice")
}

func (r *invoiceRepoPG) List(ctx context.Context, filter Filter, limit, offset int) ([]*Invoice, int, error) {
	qb := db.NewSearchQuery(invoiceFrom, invoiceCols)
	if filter.PatientID != nil {
		qb.Eq("i.patient_id", *filter.PatientID)
	}
	if filter.Status != "" {
		qb.Eq("i.status", filter.Status)
	}
	qb.Between("i.created_at", filter.From, filter.To)
	qb.OrderBy("i.created_at DESC, i.number DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (r *invoiceRepoPG) Items(ctx context.Context, invoiceID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, test_id, description, quantity, unit_price, line_total
		FROM patient_invoice_items WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.TestID, &it.Description, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (r *invoiceRepoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, reference, received_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING paid_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.ReceivedBy,
	).Scan(&p.PaidAt)
	return apperr.FromDB(err, "payment")
}

func (r *invoiceRepoPG) Payments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, received_by, paid_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
