package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Category struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type LabTest struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Code            string          `db:"code" json:"code"`
	Name            string          `db:"name" json:"name"`
	CategoryID      *uuid.UUID      `db:"category_id" json:"category_id,omitempty"`
	CategoryName    *string         `db:"-" json:"category_name,omitempty"`
	SampleType      string          `db:"sample_type" json:"sample_type"`
	Price           decimal.Decimal `db:"price" json:"price"`
	TurnaroundHours int             `db:"turnaround_hours" json:"turnaround_hours"`
	Unit            *string         `db:"unit" json:"unit,omitempty"`
	NormalRange     *string         `db:"normal_range" json:"normal_range,omitempty"`
	Description     *string         `db:"description" json:"description,omitempty"`
	Active          bool            `db:"active" json:"active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

var validSampleTypes = map[string]bool{
	"blood":  true,
	"serum":  true,
	"plasma": true,
	"urine":  true,
	"stool":  true,
	"swab":   true,
	"csf":    true,
	"sputum": true,
	"other":  true,
}

// IsValidSampleType reports whether t is a known specimen type.
func IsValidSampleType(t string) bool {
	return validSampleTypes[t]
}

type CategoryInput struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type TestInput struct {
	Code            string          `json:"code" validate:"required,max=32"`
	Name            string          `json:"name" validate:"required,max=200"`
	CategoryID      *uuid.UUID      `json:"category_id"`
	SampleType      string          `json:"sample_type" validate:"required"`
	Price           decimal.Decimal `json:"price" validate:"gte=0"`
	TurnaroundHours int             `json:"turnaround_hours" validate:"gte=0"`
	Unit            *string         `json:"unit" validate:"omitempty,max=32"`
	NormalRange     *string         `json:"normal_range" validate:"omitempty,max=200"`
	Description     *string         `json:"description" validate:"omitempty,max=2000"`
	Active          *bool           `json:"active"`
}

type TestFilter struct {
	CategoryID *uuid.UUID
	Active     *bool
	Query      string
}
