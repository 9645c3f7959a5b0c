package invoice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/domain/sample"
)

// Invoice statuses.
const (
	StatusUnpaid    = "unpaid"
	StatusPartial   = "partial"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusUnpaid:    true,
	StatusPartial:   true,
	StatusPaid:      true,
	StatusCancelled: true,
}

var validMethods = map[string]bool{
	"cash":      true,
	"card":      true,
	"transfer":  true,
	"insurance": true,
}

type Invoice struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Number          string          `db:"number" json:"number"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	Total           decimal.Decimal `db:"total" json:"total"`
	PaidAmount      decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Balance         decimal.Decimal `db:"-" json:"balance"`
	Status          string          `db:"status" json:"status"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	CancelReason    *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedBy       *uuid.UUID      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	PatientCode string `db:"-" json:"patient_code,omitempty"`
	PatientName string `db:"-" json:"patient_name,omitempty"`

	Items       []*Item              `db:"-" json:"items,omitempty"`
	Payments    []*Payment           `db:"-" json:"payments,omitempty"`
	Assignments []*sample.Assignment `db:"-" json:"assignments,omitempty"`
}

// refreshBalance recomputes the derived balance after a load or change.
func (inv *Invoice) refreshBalance() {
	inv.Balance = inv.Total.Sub(inv.PaidAmount)
}

type Item struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	TestID      *uuid.UUID      `db:"test_id" json:"test_id,omitempty"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

type Payment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	InvoiceID  uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method"`
	Reference  *string         `db:"reference" json:"reference,omitempty"`
	ReceivedBy *uuid.UUID      `db:"received_by" json:"received_by,omitempty"`
	PaidAt     time.Time       `db:"paid_at" json:"paid_at"`
}

// FormatNumber renders an invoice number for the given year and sequence
// value.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%06d", year, seq)
}

// ItemInput is one billed line. Lines with a test_id take their price and
// description from the catalog; other lines need both.
type ItemInput struct {
	TestID      *uuid.UUID       `json:"test_id"`
	Description string           `json:"description" validate:"max=200"`
	Quantity    int              `json:"quantity" validate:"omitempty,min=1,max=1000"`
	UnitPrice   *decimal.Decimal `json:"unit_price" validate:"omitempty,gte=0"`
}

type CreateRequest struct {
	PatientID       uuid.UUID       `json:"patient_id" validate:"required"`
	TestIDs         []uuid.UUID     `json:"test_ids" validate:"max=50"`
	Items           []ItemInput     `json:"items" validate:"max=100,dive"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0,lte=100"`
	Notes           *string         `json:"notes" validate:"omitempty,max=2000"`
	AssignTests     bool            `json:"assign_tests"`
	Priority        string          `json:"priority" validate:"omitempty,oneof=routine urgent stat"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Method    string          `json:"method" validate:"required,oneof=cash card transfer insurance"`
	Reference *string         `json:"reference" validate:"omitempty,max=100"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type Filter struct {
	PatientID *uuid.UUID
	Status    string
	From      *time.Time
	To        *time.Time
}
