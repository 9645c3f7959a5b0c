package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/pkg/caldate"
)

// QuantityPlaces is the precision kept for stock quantities.
const QuantityPlaces = 3

// Movement reasons.
const (
	ReasonPurchase   = "purchase"
	ReasonUsage      = "usage"
	ReasonAdjustment = "adjustment"
	ReasonExpired    = "expired"
	ReasonDamaged    = "damaged"
)

var validReasons = map[string]bool{
	ReasonPurchase:   true,
	ReasonUsage:      true,
	ReasonAdjustment: true,
	ReasonExpired:    true,
	ReasonDamaged:    true,
}

var validCategories = map[string]bool{
	"reagent":    true,
	"consumable": true,
	"equipment":  true,
	"kit":        true,
	"other":      true,
}

type Material struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Code        string          `db:"code" json:"code"`
	Name        string          `db:"name" json:"name"`
	Category    string          `db:"category" json:"category"`
	Unit        string          `db:"unit" json:"unit"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	MinQuantity decimal.Decimal `db:"min_quantity" json:"min_quantity"`
	Supplier    *string         `db:"supplier" json:"supplier,omitempty"`
	Location    *string         `db:"location" json:"location,omitempty"`
	ExpiryDate  *caldate.Date   `db:"expiry_date" json:"expiry_date,omitempty"`
	Active      bool            `db:"active" json:"active"`
	Notes       *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLow reports whether the material is at or below its reorder level.
func (m *Material) IsLow() bool {
	return m.Quantity.LessThanOrEqual(m.MinQuantity)
}

type Movement struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	MaterialID   uuid.UUID       `db:"material_id" json:"material_id"`
	Change       decimal.Decimal `db:"change" json:"change"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	Reason       string          `db:"reason" json:"reason"`
	Reference    *string         `db:"reference" json:"reference,omitempty"`
	Note         *string         `db:"note" json:"note,omitempty"`
	CreatedBy    *uuid.UUID      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`

	MaterialCode string `db:"-" json:"material_code,omitempty"`
	MaterialName string `db:"-" json:"material_name,omitempty"`
}

type MaterialInput struct {
	Code            string          `json:"code" validate:"required,max=32"`
	Name            string          `json:"name" validate:"required,max=200"`
	Category        string          `json:"category" validate:"required,oneof=reagent consumable equipment kit other"`
	Unit            string          `json:"unit" validate:"required,max=32"`
	InitialQuantity decimal.Decimal `json:"initial_quantity" validate:"gte=0"`
	MinQuantity     decimal.Decimal `json:"min_quantity" validate:"gte=0"`
	Supplier        *string         `json:"supplier" validate:"omitempty,max=200"`
	Location        *string         `json:"location" validate:"omitempty,max=100"`
	ExpiryDate      *caldate.Date   `json:"expiry_date"`
	Active          *bool           `json:"active"`
	Notes           *string         `json:"notes" validate:"omitempty,max=2000"`
}

type AdjustRequest struct {
	Change    decimal.Decimal `json:"change"`
	Reason    string          `json:"reason" validate:"required,oneof=usage adjustment expired damaged"`
	Reference *string         `json:"reference" validate:"omitempty,max=100"`
	Note      *string         `json:"note" validate:"omitempty,max=500"`
}

type MaterialFilter struct {
	Category string
	Active   *bool
	Query    string
}

type MovementFilter struct {
	MaterialID *uuid.UUID
	Reason     string
	From       *time.Time
	To         *time.Time
}
