package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
)

// -- Category Repository --

type categoryRepoPG struct {
	pool *pgxpool.Pool
}

func NewCategoryRepo(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepoPG{pool: pool}
}

func (r *categoryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const categoryCols = `id, name, description, created_at, updated_at`

func scanCategory(row pgx.Row) (*Category, error) {
	var c Category
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepoPG) Create(ctx context.Context, c *Category) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_categories (id, name, description) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Description,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return apperr.FromDB(err, "test category")
}

func (r *categoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Category, error) {
	c, err := scanCategory(r.conn(ctx).QueryRow(ctx, `SELECT `+categoryCols+` FROM test_categories WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "test category")
	}
	return c, nil
}

func (r *categoryRepoPG) Update(ctx context.Context, c *Category) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE test_categories SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		c.ID, c.Name, c.Description,
	).Scan(&c.UpdatedAt)
	return apperr.FromDB(err, "test category")
}

func (r *categoryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_categories WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "test category")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("test category")
	}
	return nil
}

func (r *categoryRepoPG) List(ctx context.Context) ([]*Category, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+categoryCols+` FROM test_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list test categories: %w", err)
	}
	defer rows.Close()

	var out []*Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *categoryRepoPG) CountTests(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_tests WHERE category_id = $1`, id).Scan(&n)
	return n, err
}

// -- Test Repository --

type testRepoPG struct {
	pool *pgxpool.Pool
}

func NewTestRepo(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	testFrom = `lab_tests t LEFT JOIN test_categories c ON c.id = t.category_id`
	testCols = `t.id, t.code, t.name, t.category_id, c.name, t.sample_type, t.price,
	t.turnaround_hours, t.unit, t.normal_range, t.description, t.active, t.created_at, t.updated_at`
)

func scanTest(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.CategoryID, &t.CategoryName, &t.SampleType, &t.Price,
		&t.TurnaroundHours, &t.Unit, &t.NormalRange, &t.Description, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *testRepoPG) Create(ctx context.Context, t *LabTest) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_tests (id, code, name, category_id, sample_type, price,
			turnaround_hours, unit, normal_range, description, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		t.ID, t.Code, t.Name, t.CategoryID, t.SampleType, t.Price,
		t.TurnaroundHours, t.Unit, t.NormalRange, t.Description, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if apperr.IsUniqueViolation(err, "") {
		return apperr.Conflict("test code %q already exists", t.Code)
	}
	return apperr.FromDB(err, "lab test")
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	t, err := scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM `+testFrom+` WHERE t.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "lab test")
	}
	return t, nil
}

func (r *testRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*LabTest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+testCols+` FROM `+testFrom+` WHERE t.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get lab tests: %w", err)
	}
	defer rows.Close()

	var out []*LabTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *testRepoPG) Update(ctx context.Context, t *LabTest) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE lab_tests SET
			code = $2, name = $3, category_id = $4, sample_type = $5, price = $6,
			turnaround_hours = $7, unit = $8, normal_range = $9, description = $10,
			active = $11, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		t.ID, t.Code, t.Name, t.CategoryID, t.SampleType, t.Price,
		t.TurnaroundHours, t.Unit, t.NormalRange, t.Description, t.Active,
	).Scan(&t.UpdatedAt)
	if apperr.IsUniqueViolation(err, "") {
		return apperr.Conflict("test code %q already exists", t.Code)
	}
	return apperr.FromDB(err, "lab test")
}

func (r *testRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_tests WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "lab test")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lab test")
	}
	return nil
}

func (r *testRepoPG) List(ctx context.Context, filter TestFilter, limit, offset int) ([]*LabTest, int, error) {
	qb := db.NewSearchQuery(testFrom, testCols)
	if filter.CategoryID != nil {
		qb.Eq("t.category_id", *filter.CategoryID)
	}
	if filter.Active != nil {
		qb.Eq("t.active", *filter.Active)
	}
	qb.Contains(filter.Query, "t.code", "t.name")
	qb.OrderBy("t.name, t.id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count lab tests: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list lab tests: %w", err)
	}
	defer rows.Close()

	var out []*LabTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *testRepoPG) IsReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var used bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM test_assignments WHERE test_id = $1)
			OR EXISTS (SELECT 1 FROM patient_invoice_items WHERE test_id = $1)`, id).Scan(&used)
	return used, err
}
