package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/medlab/lims/pkg/caldate"
)

// Stations, in board order.
const (
	StationReception        = "reception"
	StationSampleCollection = "sample_collection"
	StationResults          = "results"
)

var stations = []string{StationReception, StationSampleCollection, StationResults}

func isValidStation(s string) bool {
	for _, st := range stations {
		if st == s {
			return true
		}
	}
	return false
}

// Entry statuses.
const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServing   = "serving"
	StatusDone      = "done"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusWaiting:   true,
	StatusCalled:    true,
	StatusServing:   true,
	StatusDone:      true,
	StatusSkipped:   true,
	StatusCancelled: true,
}

// activeStatuses are the statuses that still hold a place in the queue.
var activeStatuses = []string{StatusWaiting, StatusCalled, StatusServing}

var transitions = map[string][]string{
	StatusWaiting: {StatusCalled, StatusCancelled},
	StatusCalled:  {StatusServing, StatusSkipped, StatusWaiting},
	StatusServing: {StatusDone},
	StatusSkipped: {StatusWaiting},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Entry struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	PatientID   uuid.UUID    `db:"patient_id" json:"patient_id"`
	Station     string       `db:"station" json:"station"`
	Ticket      int          `db:"ticket" json:"ticket"`
	QueueDate   caldate.Date `db:"queue_date" json:"queue_date"`
	Status      string       `db:"status" json:"status"`
	Notes       *string      `db:"notes" json:"notes,omitempty"`
	CalledBy    *uuid.UUID   `db:"called_by" json:"called_by,omitempty"`
	CalledAt    *time.Time   `db:"called_at" json:"called_at,omitempty"`
	ServedAt    *time.Time   `db:"served_at" json:"served_at,omitempty"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`

	PatientCode string `db:"-" json:"patient_code,omitempty"`
	PatientName string `db:"-" json:"patient_name,omitempty"`
}

type EnqueueRequest struct {
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	Station   string    `json:"station" validate:"required,oneof=reception sample_collection results"`
	Notes     *string   `json:"notes" validate:"omitempty,max=500"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type Filter struct {
	Station string
	Date    caldate.Date
	Status  string
}

// StationStats summarises one station's day.
type StationStats struct {
	Station        string  `json:"station"`
	Waiting        int     `json:"waiting"`
	Called         int     `json:"called"`
	Serving        int     `json:"serving"`
	Done           int     `json:"done"`
	Skipped        int     `json:"skipped"`
	Cancelled      int     `json:"cancelled"`
	Total          int     `json:"total"`
	AvgWaitMinutes float64 `json:"avg_wait_minutes"`
}

type Stats struct {
	Date     caldate.Date   `json:"date"`
	Stations []StationStats `json:"stations"`
}
