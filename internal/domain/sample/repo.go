package sample

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type AssignmentRepository interface {
	NextAccession(ctx context.Context) (int64, error)
	Create(ctx context.Context, a *Assignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assignment, error)
	// GetForUpdate row-locks the assignment for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
	List(ctx context.Context, filter AssignmentFilter, limit, offset int) ([]*Assignment, int, error)
	// CancelPendingByInvoice cancels the invoice's assignments that have not
	// been sampled yet and returns how many changed.
	CancelPendingByInvoice(ctx context.Context, invoiceID uuid.UUID) (int, error)
}

type SampleRepository interface {
	// NextSeq returns one past the highest sample ordinal of the assignment.
	NextSeq(ctx context.Context, assignmentID uuid.UUID) (int, error)
	Create(ctx context.Context, s *Sample) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sample, error)
	GetByCode(ctx context.Context, code string) (*Sample, error)
	Update(ctx context.Context, s *Sample) error
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*Sample, error)
	List(ctx context.Context, filter SampleFilter, limit, offset int) ([]*Sample, int, error)
}

// ErrCodeTaken is returned by SampleRepository.Create when the sample code
// or ordinal is already used, typically by a concurrent writer in another
// process.
var ErrCodeTaken = errors.New("sample code already taken")
