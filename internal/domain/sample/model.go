package sample

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Assignment statuses.
const (
	AssignmentPending    = "pending"
	AssignmentCollected  = "collected"
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
	AssignmentCancelled  = "cancelled"
)

// Sample statuses.
const (
	SampleCollected  = "collected"
	SampleReceived   = "received"
	SampleProcessing = "processing"
	SampleAnalyzed   = "analyzed"
	SampleDisposed   = "disposed"
	SampleRejected   = "rejected"
)

var validPriorities = map[string]bool{
	"routine": true,
	"urgent":  true,
	"stat":    true,
}

var validAssignmentStatuses = map[string]bool{
	AssignmentPending:    true,
	AssignmentCollected:  true,
	AssignmentInProgress: true,
	AssignmentCompleted:  true,
	AssignmentCancelled:  true,
}

var validSampleStatuses = map[string]bool{
	SampleCollected:  true,
	SampleReceived:   true,
	SampleProcessing: true,
	SampleAnalyzed:   true,
	SampleDisposed:   true,
	SampleRejected:   true,
}

// sampleTransitions lists the statuses reachable from each sample status
// through UpdateSampleStatus.
var sampleTransitions = map[string][]string{
	SampleCollected:  {SampleReceived, SampleRejected},
	SampleReceived:   {SampleProcessing, SampleRejected},
	SampleProcessing: {SampleAnalyzed, SampleRejected},
	SampleAnalyzed:   {SampleDisposed},
	SampleRejected:   {SampleDisposed},
}

func canTransition(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// acceptsSamples reports whether new samples may be drawn for an assignment
// in the given status.
func acceptsSamples(status string) bool {
	return status == AssignmentPending || status == AssignmentCollected || status == AssignmentInProgress
}

type Assignment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Accession   string     `db:"accession" json:"accession"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	TestID      uuid.UUID  `db:"test_id" json:"test_id"`
	InvoiceID   *uuid.UUID `db:"invoice_id" json:"invoice_id,omitempty"`
	Priority    string     `db:"priority" json:"priority"`
	Status      string     `db:"status" json:"status"`
	ResultValue *string    `db:"result_value" json:"result_value,omitempty"`
	ResultUnit  *string    `db:"result_unit" json:"result_unit,omitempty"`
	ResultNotes *string    `db:"result_notes" json:"result_notes,omitempty"`
	IsAbnormal  bool       `db:"is_abnormal" json:"is_abnormal"`
	AssignedBy  *uuid.UUID `db:"assigned_by" json:"assigned_by,omitempty"`
	PerformedBy *uuid.UUID `db:"performed_by" json:"performed_by,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	// Joined for display.
	TestCode    string `db:"-" json:"test_code,omitempty"`
	TestName    string `db:"-" json:"test_name,omitempty"`
	SampleType  string `db:"-" json:"sample_type,omitempty"`
	PatientCode string `db:"-" json:"patient_code,omitempty"`
	PatientName string `db:"-" json:"patient_name,omitempty"`

	Samples []*Sample `db:"-" json:"samples,omitempty"`
}

type Sample struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Code            string     `db:"code" json:"code"`
	AssignmentID    uuid.UUID  `db:"assignment_id" json:"assignment_id"`
	Seq             int        `db:"seq" json:"-"`
	SampleType      string     `db:"sample_type" json:"sample_type"`
	Status          string     `db:"status" json:"status"`
	CollectedBy     *uuid.UUID `db:"collected_by" json:"collected_by,omitempty"`
	CollectedAt     time.Time  `db:"collected_at" json:"collected_at"`
	ReceivedAt      *time.Time `db:"received_at" json:"received_at,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`

	// Joined for barcode lookups.
	Accession string    `db:"-" json:"accession,omitempty"`
	PatientID uuid.UUID `db:"-" json:"patient_id"`
	TestCode  string    `db:"-" json:"test_code,omitempty"`
}

// FormatAccession renders an accession number from its sequence value.
func FormatAccession(seq int64) string {
	return fmt.Sprintf("A%06d", seq)
}

// FormatSampleCode renders the code of the seq-th sample of an assignment.
func FormatSampleCode(accession string, seq int) string {
	return fmt.Sprintf("%s-%02d", accession, seq)
}

type AssignRequest struct {
	PatientID uuid.UUID   `json:"patient_id" validate:"required"`
	TestIDs   []uuid.UUID `json:"test_ids" validate:"required,min=1,max=50"`
	Priority  string      `json:"priority" validate:"omitempty,oneof=routine urgent stat"`
	InvoiceID *uuid.UUID  `json:"invoice_id"`
}

type ResultRequest struct {
	Value      string  `json:"value" validate:"required,max=500"`
	Unit       *string `json:"unit" validate:"omitempty,max=32"`
	Notes      *string `json:"notes" validate:"omitempty,max=2000"`
	IsAbnormal bool    `json:"is_abnormal"`
}

type CreateSampleRequest struct {
	SampleType string  `json:"sample_type"`
	Notes      *string `json:"notes" validate:"omitempty,max=2000"`
}

type SampleStatusRequest struct {
	Status string  `json:"status" validate:"required"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

type AssignmentFilter struct {
	PatientID *uuid.UUID
	TestID    *uuid.UUID
	Status    string
	Priority  string
	From      *time.Time
	To        *time.Time
}

type SampleFilter struct {
	Status       string
	AssignmentID *uuid.UUID
	From         *time.Time
	To           *time.Time
}
