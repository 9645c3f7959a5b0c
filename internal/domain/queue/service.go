package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/domain/patient"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/internal/platform/metrics"
	"github.com/medlab/lims/internal/platform/websocket"
	"github.com/medlab/lims/pkg/caldate"
)

// TopicPrefix prefixes the per-station board topics.
const TopicPrefix = "queue:"

// Topic names the board topic of a station.
func Topic(station string) string {
	return TopicPrefix + station
}

// PatientLookup confirms a patient exists.
type PatientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	entries  EntryRepository
	tx       db.Transactor
	patients PatientLookup
	events   websocket.EventPublisher
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService numbers tickets per calendar day in loc. A nil loc means UTC.
func NewService(entries EntryRepository, tx db.Transactor, patients PatientLookup,
	events websocket.EventPublisher, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		entries:  entries,
		tx:       tx,
		patients: patients,
		events:   events,
		loc:      loc,
		logger:   logger.With().Str("component", "queue").Logger(),
		now:      time.Now,
	}
}

func (s *Service) today() caldate.Date {
	return caldate.Of(s.now().In(s.loc))
}

// Enqueue hands the patient the station's next ticket for today.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Entry, error) {
	if !isValidStation(req.Station) {
		return nil, apperr.Validation("unknown station %q", req.Station)
	}
	p, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	day := s.today()
	e := &Entry{
		PatientID:   p.ID,
		Station:     req.Station,
		QueueDate:   day,
		Status:      StatusWaiting,
		Notes:       req.Notes,
		PatientCode: p.Code,
		PatientName: p.FullName(),
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		active, err := s.entries.HasActive(ctx, p.ID, req.Station, day)
		if err != nil {
			return err
		}
		if active {
			return apperr.Conflict("patient %s is already queued at %s", p.Code, req.Station)
		}
		if e.Ticket, err = s.entries.NextTicket(ctx, req.Station, day); err != nil {
			return err
		}
		return s.entries.Create(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	metrics.QueueEnqueued(e.Station)
	s.publish(ctx, "queue.enqueued", e)
	return e, nil
}

// List returns a day's entries, today by default.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	if filter.Station != "" && !isValidStation(filter.Station) {
		return nil, apperr.Validation("unknown station %q", filter.Station)
	}
	if filter.Status != "" && !validStatuses[filter.Status] {
		return nil, apperr.Validation("unknown status %q", filter.Status)
	}
	if filter.Date.IsZero() {
		filter.Date = s.today()
	}
	out, err := s.entries.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Entry{}
	}
	return out, nil
}

// CallNext calls the oldest waiting ticket at the station.
func (s *Service) CallNext(ctx context.Context, station string) (*Entry, error) {
	if !isValidStation(station) {
		return nil, apperr.Validation("unknown station %q", station)
	}
	var out *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.entries.NextWaiting(ctx, station, s.today())
		if err != nil {
			return err
		}
		if e == nil {
			return apperr.NotFound("waiting patient at " + station)
		}
		s.advance(ctx, e, StatusCalled)
		if err := s.entries.Update(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.called", out)
	return out, nil
}

// UpdateStatus moves an entry along the queue workflow.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Entry, error) {
	if !validStatuses[status] {
		return nil, apperr.Validation("unknown status %q", status)
	}
	var out *Entry
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.entries.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canTransition(e.Status, status) {
			return apperr.InvalidState("cannot move ticket from %s to %s", e.Status, status)
		}
		s.advance(ctx, e, status)
		if err := s.entries.Update(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.updated", out)
	return out, nil
}

// advance sets the status and the timestamps that go with it.
func (s *Service) advance(ctx context.Context, e *Entry, status string) {
	now := s.now().UTC()
	switch status {
	case StatusCalled:
		e.CalledAt = &now
		e.CalledBy = auth.ActorFromContext(ctx)
	case StatusServing:
		e.ServedAt = &now
	case StatusDone:
		e.CompletedAt = &now
	case StatusWaiting:
		// Back in line: the next call starts a fresh wait.
		e.CalledAt = nil
		e.CalledBy = nil
	}
	e.Status = status
}

// Stats counts a day's entries per station and averages the wait from
// ticket to first call.
func (s *Service) Stats(ctx context.Context, day caldate.Date) (*Stats, error) {
	if day.IsZero() {
		day = s.today()
	}
	entries, err := s.entries.List(ctx, Filter{Date: day})
	if err != nil {
		return nil, err
	}
	return aggregate(day, entries), nil
}

func aggregate(day caldate.Date, entries []*Entry) *Stats {
	byStation := make(map[string]*StationStats, len(stations))
	waitSum := make(map[string]time.Duration, len(stations))
	waitN := make(map[string]int, len(stations))
	for _, st := range stations {
		byStation[st] = &StationStats{Station: st}
	}
	for _, e := range entries {
		st, ok := byStation[e.Station]
		if !ok {
			continue
		}
		st.Total++
		switch e.Status {
		case StatusWaiting:
			st.Waiting++
		case StatusCalled:
			st.Called++
		case StatusServing:
			st.Serving++
		case StatusDone:
			st.Done++
		case StatusSkipped:
			st.Skipped++
		case StatusCancelled:
			st.Cancelled++
		}
		if e.CalledAt != nil && e.CalledAt.After(e.CreatedAt) {
			waitSum[e.Station] += e.CalledAt.Sub(e.CreatedAt)
			waitN[e.Station]++
		}
	}

	out := &Stats{Date: day, Stations: make([]StationStats, 0, len(stations))}
	for _, name := range stations {
		st := byStation[name]
		if n := waitN[name]; n > 0 {
			avg := waitSum[name].Minutes() / float64(n)
			st.AvgWaitMinutes = float64(int(avg*10+0.5)) / 10
		}
		out.Stations = append(out.Stations, *st)
	}
	return out
}

// publish broadcasts a change on the station board. Delivery is best effort.
func (s *Service) publish(ctx context.Context, kind string, e *Entry) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal queue event")
		return
	}
	err = s.events.Publish(ctx, websocket.Event{
		Type:     kind,
		Topic:    Topic(e.Station),
		EntityID: e.ID.String(),
		Data:     data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("station", e.Station).Msg("publish queue event")
	}
}
