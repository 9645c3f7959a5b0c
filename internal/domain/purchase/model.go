package purchase

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/pkg/caldate"
)

// Purchase invoice statuses.
const (
	StatusDraft     = "draft"
	StatusReceived  = "received"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusDraft:     true,
	StatusReceived:  true,
	StatusCancelled: true,
}

type PurchaseInvoice struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Number      string          `db:"number" json:"number"`
	Supplier    string          `db:"supplier" json:"supplier"`
	SupplierRef *string         `db:"supplier_ref" json:"supplier_ref,omitempty"`
	Total       decimal.Decimal `db:"total" json:"total"`
	Status      string          `db:"status" json:"status"`
	ReceivedAt  *time.Time      `db:"received_at" json:"received_at,omitempty"`
	ReceivedBy  *uuid.UUID      `db:"received_by" json:"received_by,omitempty"`
	Notes       *string         `db:"notes" json:"notes,omitempty"`
	CreatedBy   *uuid.UUID      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	Items []*Item `db:"-" json:"items,omitempty"`
}

type Item struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	PurchaseID uuid.UUID       `db:"purchase_id" json:"purchase_id"`
	MaterialID uuid.UUID       `db:"material_id" json:"material_id"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	UnitCost   decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	LineTotal  decimal.Decimal `db:"line_total" json:"line_total"`
	BatchNo    *string         `db:"batch_no" json:"batch_no,omitempty"`
	ExpiryDate *caldate.Date   `db:"expiry_date" json:"expiry_date,omitempty"`

	MaterialCode string `db:"-" json:"material_code,omitempty"`
	MaterialName string `db:"-" json:"material_name,omitempty"`
}

// FormatNumber renders a purchase invoice number.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("PUR-%d-%06d", year, seq)
}

type ItemInput struct {
	MaterialID uuid.UUID       `json:"material_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost   decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	BatchNo    *string         `json:"batch_no" validate:"omitempty,max=64"`
	ExpiryDate *caldate.Date   `json:"expiry_date"`
}

type PurchaseInput struct {
	Supplier    string      `json:"supplier" validate:"required,max=200"`
	SupplierRef *string     `json:"supplier_ref" validate:"omitempty,max=100"`
	Notes       *string     `json:"notes" validate:"omitempty,max=2000"`
	Items       []ItemInput `json:"items" validate:"required,min=1,max=200,dive"`
}

type Filter struct {
	Status   string
	Supplier string
	From     *time.Time
	To       *time.Time
}
