package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, code, first_name, last_name, gender, birth_date, phone, email,
	address, national_id, referred_by, notes, created_by, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Code, &p.FirstName, &p.LastName, &p.Gender, &p.BirthDate, &p.Phone, &p.Email,
		&p.Address, &p.NationalID, &p.ReferredBy, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('patient_code_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("next patient code: %w", err)
	}
	p.ID = uuid.New()
	p.Code = FormatCode(seq)

	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, code, first_name, last_name, gender, birth_date, phone, email,
			address, national_id, referred_by, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.FirstName, p.LastName, p.Gender, p.BirthDate, p.Phone, p.Email,
		p.Address, p.NationalID, p.ReferredBy, p.Notes, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if apperr.IsUniqueViolation(err, "patients_national_id_key") {
		return apperr.Conflict("a patient with this national id already exists")
	}
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	return p, nil
}

func (r *patientRepoPG) GetByCode(ctx context.Context, code string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE code = $1`, strings.ToUpper(code)))
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET
			first_name = $2, last_name = $3, gender = $4, birth_date = $5, phone = $6,
			email = $7, address = $8, national_id = $9, referred_by = $10, notes = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.Gender, p.BirthDate, p.Phone,
		p.Email, p.Address, p.NationalID, p.ReferredBy, p.Notes,
	).Scan(&p.UpdatedAt)
	if apperr.IsUniqueViolation(err, "patients_national_id_key") {
		return apperr.Conflict("a patient with this national id already exists")
	}
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "patient")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient")
	}
	return nil
}

func (r *patientRepoPG) Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Patient, int, error) {
	qb := db.NewSearchQuery("patients", patientCols)
	qb.Contains(filter.Query, "code", "first_name", "last_name", "phone",
		"(first_name || ' ' || last_name)")
	if filter.Gender != "" {
		qb.Eq("gender", filter.Gender)
	}
	qb.Between("created_at", filter.From, filter.To)
	qb.OrderBy("created_at DESC, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *patientRepoPG) HasDependents(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM patient_invoices WHERE patient_id = $1)
			OR EXISTS (SELECT 1 FROM test_assignments WHERE patient_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *patientRepoPG) Assignments(ctx context.Context, id uuid.UUID) ([]*AssignmentSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, a.accession, t.code, t.name, a.status, a.priority,
			a.result_value, a.is_abnormal, a.completed_at, a.created_at
		FROM test_assignments a
		JOIN lab_tests t ON t.id = a.test_id
		WHERE a.patient_id = $1
		ORDER BY a.created_at DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("patient assignments: %w", err)
	}
	defer rows.Close()

	var out []*AssignmentSummary
	for rows.Next() {
		var a AssignmentSummary
		if err := rows.Scan(&a.ID, &a.Accession, &a.TestCode, &a.TestName, &a.Status, &a.Priority,
			&a.ResultValue, &a.IsAbnormal, &a.CompletedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *patientRepoPG) Invoices(ctx context.Context, id uuid.UUID) ([]*InvoiceSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, number, status, total, paid_amount, created_at
		FROM patient_invoices
		WHERE patient_id = $1
		ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("patient invoices: %w", err)
	}
	defer rows.Close()

	var out []*InvoiceSummary
	for rows.Next() {
		var inv InvoiceSummary
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.Status, &inv.Total, &inv.PaidAmount, &inv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}
