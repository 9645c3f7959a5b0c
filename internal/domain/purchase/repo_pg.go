package purchase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
)

type purchaseRepoPG struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) PurchaseRepository {
	return &purchaseRepoPG{pool: pool}
}

func (r *purchaseRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const purchaseCols = `id, number, supplier, supplier_ref, total, status, received_at, received_by,
	notes, created_by, created_at, updated_at`

func scanPurchase(row pgx.Row) (*PurchaseInvoice, error) {
	var p PurchaseInvoice
	err := row.Scan(&p.ID, &p.Number, &p.Supplier, &p.SupplierRef, &p.Total, &p.Status, &p.ReceivedAt, &p.ReceivedBy,
		&p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *purchaseRepoPG) NextNumber(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('purchase_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next purchase number: %w", err)
	}
	return seq, nil
}

func (r *purchaseRepoPG) Create(ctx context.Context, p *PurchaseInvoice) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO purchase_invoices (id, number, supplier, supplier_ref, total, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.Number, p.Supplier, p.SupplierRef, p.Total, p.Status, p.Notes, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "purchase invoice")
	}
	return r.insertItems(ctx, p)
}

func (r *purchaseRepoPG) insertItems(ctx context.Context, p *PurchaseInvoice) error {
	for i, it := range p.Items {
		it.ID = uuid.New()
		it.PurchaseID = p.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO purchase_invoice_items (id, purchase_id, position, material_id, quantity, unit_cost,
				line_total, batch_no, expiry_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			it.ID, it.PurchaseID, i+1, it.MaterialID, it.Quantity, it.UnitCost,
			it.LineTotal, it.BatchNo, it.ExpiryDate)
		if err != nil {
			return apperr.FromDB(err, "purchase item")
		}
	}
	return nil
}

func (r *purchaseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error) {
	p, err := scanPurchase(r.conn(ctx).QueryRow(ctx, `SELECT `+purchaseCols+` FROM purchase_invoices WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "purchase invoice")
	}
	return p, nil
}

func (r *purchaseRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error) {
	p, err := scanPurchase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+purchaseCols+` FROM purchase_invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "purchase invoice")
	}
	return p, nil
}

func (r *purchaseRepoPG) Update(ctx context.Context, p *PurchaseInvoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE purchase_invoices SET supplier = $2, supplier_ref = $3, total = $4, notes = $5, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		p.ID, p.Supplier, p.SupplierRef, p.Total, p.Notes,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "purchase invoice")
	}
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM purchase_invoice_items WHERE purchase_id = $1`, p.ID); err != nil {
		return fmt.Errorf("replace purchase items: %w", err)
	}
	return r.insertItems(ctx, p)
}

func (r *purchaseRepoPG) SetStatus(ctx context.Context, p *PurchaseInvoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE purchase_invoices SET status = $2, received_at = $3, received_by = $4, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		p.ID, p.Status, p.ReceivedAt, p.ReceivedBy,
	).Scan(&p.UpdatedAt)
	return apperr.FromDB(err, "purchase invoice")
}

func (r *purchaseRepoPG) Items(ctx context.Context, purchaseID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.id, i.purchase_id, i.material_id, i.quantity, i.unit_cost, i.line_total, i.batch_no,
			i.expiry_date, m.code, m.name
		FROM purchase_invoice_items i JOIN materials m ON m.id = i.material_id
		WHERE i.purchase_id = $1 ORDER BY i.position`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list purchase items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.MaterialID, &it.Quantity, &it.UnitCost, &it.LineTotal, &it.BatchNo,
			&it.ExpiryDate, &it.MaterialCode, &it.MaterialName); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (r *purchaseRepoPG) List(ctx context.Context, filter Filter, limit, offset int) ([]*PurchaseInvoice, int, error) {
	qb := db.NewSearchQuery("purchase_invoices", purchaseCols)
	if filter.Status != "" {
		qb.Eq("status", filter.Status)
	}
	qb.Contains(filter.Supplier, "supplier")
	qb.Between("created_at", filter.From, filter.To)
	qb.OrderBy("created_at DESC, number DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchase invoices: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchase invoices: %w", err)
	}
	defer rows.Close()

	var out []*PurchaseInvoice
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
