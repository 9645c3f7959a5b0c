package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/pkg/caldate"
)

// -- Material Repository --

type materialRepoPG struct {
	pool *pgxpool.Pool
}

func NewMaterialRepo(pool *pgxpool.Pool) MaterialRepository {
	return &materialRepoPG{pool: pool}
}

func (r *materialRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const materialCols = `id, code, name, category, unit, quantity, min_quantity, supplier, location,
	expiry_date, active, notes, created_at, updated_at`

func scanMaterial(row pgx.Row) (*Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Category, &m.Unit, &m.Quantity, &m.MinQuantity, &m.Supplier, &m.Location,
		&m.ExpiryDate, &m.Active, &m.Notes, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepoPG) Create(ctx context.Context, m *Material) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO materials (id, code, name, category, unit, quantity, min_quantity, supplier, location,
			expiry_date, active, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		m.ID, m.Code, m.Name, m.Category, m.Unit, m.Quantity, m.MinQuantity, m.Supplier, m.Location,
		m.ExpiryDate, m.Active, m.Notes,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if apperr.IsUniqueViolation(err, "materials_code_key") {
		return apperr.Conflict("material code %s already exists", m.Code)
	}
	return apperr.FromDB(err, "material")
}

func (r *materialRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Material, error) {
	m, err := scanMaterial(r.conn(ctx).QueryRow(ctx, `SELECT `+materialCols+` FROM materials WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "material")
	}
	return m, nil
}

func (r *materialRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Material, error) {
	m, err := scanMaterial(r.conn(ctx).QueryRow(ctx, `SELECT `+materialCols+` FROM materials WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "material")
	}
	return m, nil
}

func (r *materialRepoPG) Update(ctx context.Context, m *Material) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE materials SET
			code = $2, name = $3, category = $4, unit = $5, min_quantity = $6, supplier = $7,
			location = $8, expiry_date = $9, active = $10, notes = $11, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		m.ID, m.Code, m.Name, m.Category, m.Unit, m.MinQuantity, m.Supplier,
		m.Location, m.ExpiryDate, m.Active, m.Notes,
	).Scan(&m.UpdatedAt)
	if apperr.IsUniqueViolation(err, "materials_code_key") {
		return apperr.Conflict("material code %s already exists", m.Code)
	}
	return apperr.FromDB(err, "material")
}

func (r *materialRepoPG) SetStock(ctx context.Context, id uuid.UUID, quantity decimal.Decimal, expiry *caldate.Date) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE materials SET quantity = $2, expiry_date = $3, updated_at = NOW() WHERE id = $1`,
		id, quantity, expiry)
	if err != nil {
		return apperr.FromDB(err, "material")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("material")
	}
	return nil
}

func (r *materialRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "material")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("material")
	}
	return nil
}

func (r *materialRepoPG) List(ctx context.Context, filter MaterialFilter, limit, offset int) ([]*Material, int, error) {
	qb := db.NewSearchQuery("materials", materialCols)
	if filter.Category != "" {
		qb.Eq("category", filter.Category)
	}
	if filter.Active != nil {
		qb.Eq("active", *filter.Active)
	}
	qb.Contains(filter.Query, "code", "name", "supplier")
	qb.OrderBy("name, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count materials: %w", err)
	}
	out, err := r.query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *materialRepoPG) LowStock(ctx context.Context) ([]*Material, error) {
	return r.query(ctx, `SELECT `+materialCols+` FROM materials
		WHERE active AND quantity <= min_quantity
		ORDER BY quantity - min_quantity, name`)
}

func (r *materialRepoPG) ExpiringBefore(ctx context.Context, day caldate.Date) ([]*Material, error) {
	return r.query(ctx, `SELECT `+materialCols+` FROM materials
		WHERE active AND expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY expiry_date, name`, day)
}

func (r *materialRepoPG) query(ctx context.Context, sql string, args ...any) ([]*Material, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var out []*Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// -- Movement Repository --

type movementRepoPG struct {
	pool *pgxpool.Pool
}

func NewMovementRepo(pool *pgxpool.Pool) MovementRepository {
	return &movementRepoPG{pool: pool}
}

func (r *movementRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	movementFrom = `stock_movements sm JOIN materials m ON m.id = sm.material_id`
	movementCols = `sm.id, sm.material_id, sm.change, sm.balance_after, sm.reason, sm.reference, sm.note,
	sm.created_by, sm.created_at, m.code, m.name`
)

func (r *movementRepoPG) Create(ctx context.Context, mv *Movement) error {
	mv.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_movements (id, material_id, change, balance_after, reason, reference, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		mv.ID, mv.MaterialID, mv.Change, mv.BalanceAfter, mv.Reason, mv.Reference, mv.Note, mv.CreatedBy,
	).Scan(&mv.CreatedAt)
	return apperr.FromDB(err, "stock movement")
}

func (r *movementRepoPG) List(ctx context.Context, filter MovementFilter, limit, offset int) ([]*Movement, int, error) {
	qb := db.NewSearchQuery(movementFrom, movementCols)
	if filter.MaterialID != nil {
		qb.Eq("sm.material_id", *filter.MaterialID)
	}
	if filter.Reason != "" {
		qb.Eq("sm.reason", filter.Reason)
	}
	qb.Between("sm.created_at", filter.From, filter.To)
	qb.OrderBy("sm.created_at DESC, sm.id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stock movements: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var out []*Movement
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.MaterialID, &mv.Change, &mv.BalanceAfter, &mv.Reason, &mv.Reference, &mv.Note,
			&mv.CreatedBy, &mv.CreatedAt, &mv.MaterialCode, &mv.MaterialName); err != nil {
			return nil, 0, err
		}
		out = append(out, &mv)
	}
	return out, total, rows.Err()
}

func (r *movementRepoPG) ExistsForMaterial(ctx context.Context, materialID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM stock_movements WHERE material_id = $1)`, materialID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check stock movements: %w", err)
	}
	return exists, nil
}
