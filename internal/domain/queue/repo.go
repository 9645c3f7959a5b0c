package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/medlab/lims/pkg/caldate"
)

type EntryRepository interface {
	// NextTicket atomically advances the station's counter for the day.
	NextTicket(ctx context.Context, station string, day caldate.Date) (int, error)
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	// List returns the day's entries in ticket order.
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	// HasActive reports whether the patient still holds a place at the
	// station that day.
	HasActive(ctx context.Context, patientID uuid.UUID, station string, day caldate.Date) (bool, error)
	// NextWaiting locks and returns the oldest waiting entry, skipping rows
	// locked by concurrent callers. It returns nil when none is left.
	NextWaiting(ctx context.Context, station string, day caldate.Date) (*Entry, error)
}
