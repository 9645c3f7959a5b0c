package sample

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

// -- Assignment Repository --

type assignmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepo(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

func (r *assignmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	assignmentFrom = `test_assignments a
	JOIN lab_tests t ON t.id = a.test_id
	JOIN patients p ON p.id = a.patient_id`
	assignmentCols = `a.id, a.accession, a.patient_id, a.test_id, a.invoice_id, a.priority, a.status,
	a.result_value, a.result_unit, a.result_notes, a.is_abnormal, a.assigned_by, a.performed_by,
	a.completed_at, a.created_at, a.updated_at,
	t.code, t.name, t.sample_type, p.code, p.first_name || ' ' || p.last_name`
)

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.Accession, &a.PatientID, &a.TestID, &a.InvoiceID, &a.Priority, &a.Status,
		&a.ResultValue, &a.ResultUnit, &a.ResultNotes, &a.IsAbnormal, &a.AssignedBy, &a.PerformedBy,
		&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt,
		&a.TestCode, &a.TestName, &a.SampleType, &a.PatientCode, &a.PatientName)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepoPG) NextAccession(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('accession_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next accession: %w", err)
	}
	return seq, nil
}

func (r *assignmentRepoPG) Create(ctx context.Context, a *Assignment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_assignments (id, accession, patient_id, test_id, invoice_id, priority, status, assigned_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		a.ID, a.Accession, a.PatientID, a.TestID, a.InvoiceID, a.Priority, a.Status, a.AssignedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromDB(err, "test assignment")
}

func (r *assignmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM `+assignmentFrom+` WHERE a.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "test assignment")
	}
	return a, nil
}

func (r *assignmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM `+assignmentFrom+` WHERE a.id = $1 FOR UPDATE OF a`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "test assignment")
	}
	return a, nil
}

func (r *assignmentRepoPG) Update(ctx context.Context, a *Assignment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE test_assignments SET
			status = $2, result_value = $3, result_unit = $4, result_notes = $5,
			is_abnormal = $6, performed_by = $7, completed_at = $8, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		a.ID, a.Status, a.ResultValue, a.ResultUnit, a.ResultNotes,
		a.IsAbnormal, a.PerformedBy, a.CompletedAt,
	).Scan(&a.UpdatedAt)
	return apperr.FromDB(err, "test assignment")
}

func (r *assignmentRepoPG) List(ctx context.Context, filter AssignmentFilter, limit, offset int) ([]*Assignment, int, error) {
	qb := db.NewSearchQuery(assignmentFrom, assignmentCols)
	if filter.PatientID != nil {
		qb.Eq("a.patient_id", *filter.PatientID)
	}
	if filter.TestID != nil {
		qb.Eq("a.test_id", *filter.TestID)
	}
	if filter.Status != "" {
		qb.Eq("a.status", filter.Status)
	}
	if filter.Priority != "" {
		qb.Eq("a.priority", filter.Priority)
	}
	qb.Between("a.created_at", filter.From, filter.To)
	// stat first, then urgent, then routine; oldest first within a priority.
	qb.OrderBy(`CASE a.priority WHEN 'stat' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END, a.created_at, a.id`)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count test assignments: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list test assignments: %w", err)
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *assignmentRepoPG) CancelPendingByInvoice(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_assignments SET status = 'cancelled', updated_at = NOW()
		WHERE invoice_id = $1 AND status = 'pending'`, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("cancel invoice assignments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// -- Sample Repository --

type sampleRepoPG struct {
	pool *pgxpool.Pool
}

func NewSampleRepo(pool *pgxpool.Pool) SampleRepository {
	return &sampleRepoPG{pool: pool}
}

func (r *sampleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	sampleFrom = `samples s
	JOIN test_assignments a ON a.id = s.assignment_id
	JOIN lab_tests t ON t.id = a.test_id`
	sampleCols = `s.id, s.code, s.assignment_id, s.seq, s.sample_type, s.status, s.collected_by,
	s.collected_at, s.received_at, s.rejection_reason, s.notes, s.created_at, s.updated_at,
	a.accession, a.patient_id, t.code`
)

func scanSample(row pgx.Row) (*Sample, error) {
	var s Sample
	err := row.Scan(&s.ID, &s.Code, &s.AssignmentID, &s.Seq, &s.SampleType, &s.Status, &s.CollectedBy,
		&s.CollectedAt, &s.ReceivedAt, &s.RejectionReason, &s.Notes, &s.CreatedAt, &s.UpdatedAt,
		&s.Accession, &s.PatientID, &s.TestCode)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sampleRepoPG) NextSeq(ctx context.Context, assignmentID uuid.UUID) (int, error) {
	var next int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM samples WHERE assignment_id = $1`, assignmentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sample ordinal: %w", err)
	}
	return next, nil
}

func (r *sampleRepoPG) Create(ctx context.Context, s *Sample) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO samples (id, code, assignment_id, seq, sample_type, status, collected_by, collected_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		s.ID, s.Code, s.AssignmentID, s.Seq, s.SampleType, s.Status, s.CollectedBy, s.CollectedAt, s.Notes,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if apperr.IsUniqueViolation(err, "samples_code_key") || apperr.IsUniqueViolation(err, "samples_assignment_seq_key") {
		return ErrCodeTaken
	}
	return apperr.FromDB(err, "sample")
}

func (r *sampleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Sample, error) {
	s, err := scanSample(r.conn(ctx).QueryRow(ctx, `SELECT `+sampleCols+` FROM `+sampleFrom+` WHERE s.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "sample")
	}
	return s, nil
}

func (r *sampleRepoPG) GetByCode(ctx context.Context, code string) (*Sample, error) {
	s, err := scanSample(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sampleCols+` FROM `+sampleFrom+` WHERE s.code = $1`, strings.ToUpper(code)))
	if err != nil {
		return nil, apperr.FromDB(err, "sample")
	}
	return s, nil
}

func (r *sampleRepoPG) Update(ctx context.Context, s *Sample) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE samples SET status = $2, received_at = $3, rejection_reason = $4, notes = $5, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		s.ID, s.Status, s.ReceivedAt, s.RejectionReason, s.Notes,
	).Scan(&s.UpdatedAt)
	return apperr.FromDB(err, "sample")
}

func (r *sampleRepoPG) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sampleCols+` FROM `+sampleFrom+` WHERE s.assignment_id = $1 ORDER BY s.seq`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list assignment samples: %w", err)
	}
	defer rows.Close()

	var out []*Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sampleRepoPG) List(ctx context.Context, filter SampleFilter, limit, offset int) ([]*Sample, int, error) {
	qb := db.NewSearchQuery(sampleFrom, sampleCols)
	if filter.Status != "" {
		qb.Eq("s.status", filter.Status)
	}
	if filter.AssignmentID != nil {
		qb.Eq("s.assignment_id", *filter.AssignmentID)
	}
	qb.Between("s.collected_at", filter.From, filter.To)
	qb.OrderBy("s.collected_at DESC, s.id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count samples: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []*Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
