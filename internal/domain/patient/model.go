package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/pkg/caldate"
)

type Patient struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	Code       string        `db:"code" json:"code"`
	FirstName  string        `db:"first_name" json:"first_name"`
	LastName   string        `db:"last_name" json:"last_name"`
	Gender     string        `db:"gender" json:"gender"`
	BirthDate  *caldate.Date `db:"birth_date" json:"birth_date,omitempty"`
	Phone      *string       `db:"phone" json:"phone,omitempty"`
	Email      *string       `db:"email" json:"email,omitempty"`
	Address    *string       `db:"address" json:"address,omitempty"`
	NationalID *string       `db:"national_id" json:"national_id,omitempty"`
	ReferredBy *string       `db:"referred_by" json:"referred_by,omitempty"`
	Notes      *string       `db:"notes" json:"notes,omitempty"`
	CreatedBy  *uuid.UUID    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

var validGenders = map[string]bool{
	"male":   true,
	"female": true,
	"other":  true,
}

// PatientInput is the writable subset of Patient.
type PatientInput struct {
	FirstName  string        `json:"first_name" validate:"required,max=100"`
	LastName   string        `json:"last_name" validate:"required,max=100"`
	Gender     string        `json:"gender" validate:"required,oneof=male female other"`
	BirthDate  *caldate.Date `json:"birth_date"`
	Phone      *string       `json:"phone" validate:"omitempty,max=32"`
	Email      *string       `json:"email" validate:"omitempty,email"`
	Address    *string       `json:"address" validate:"omitempty,max=500"`
	NationalID *string       `json:"national_id" validate:"omitempty,max=64"`
	ReferredBy *string       `json:"referred_by" validate:"omitempty,max=200"`
	Notes      *string       `json:"notes" validate:"omitempty,max=2000"`
}

type SearchFilter struct {
	Query  string
	Gender string
	From   *time.Time
	To     *time.Time
}

// AssignmentSummary is one row of a patient's test history.
type AssignmentSummary struct {
	ID          uuid.UUID  `json:"id"`
	Accession   string     `json:"accession"`
	TestCode    string     `json:"test_code"`
	TestName    string     `json:"test_name"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	ResultValue *string    `json:"result_value,omitempty"`
	IsAbnormal  bool       `json:"is_abnormal"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// InvoiceSummary is one row of a patient's billing history.
type InvoiceSummary struct {
	ID         uuid.UUID       `json:"id"`
	Number     string          `json:"number"`
	Status     string          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

type History struct {
	Patient     *Patient             `json:"patient"`
	Assignments []*AssignmentSummary `json:"assignments"`
	Invoices    []*InvoiceSummary    `json:"invoices"`
}

// FormatCode renders a patient code from its sequence value: P000042.
// Values past six digits keep growing rather than being truncated.
func FormatCode(seq int64) string {
	return fmt.Sprintf("P%06d", seq)
}
