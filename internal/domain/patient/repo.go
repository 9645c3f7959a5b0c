package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByCode(ctx context.Context, code string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Patient, int, error)

	// HasDependents reports whether invoices or test assignments reference
	// the patient.
	HasDependents(ctx context.Context, id uuid.UUID) (bool, error)
	Assignments(ctx context.Context, id uuid.UUID) ([]*AssignmentSummary, error)
	Invoices(ctx context.Context, id uuid.UUID) ([]*InvoiceSummary, error)
}
