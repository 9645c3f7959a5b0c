package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/pkg/caldate"
)

type entryRepoPG struct {
	pool *pgxpool.Pool
}

func NewEntryRepo(pool *pgxpool.Pool) EntryRepository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	entryFrom = `queue_entries q JOIN patients p ON p.id = q.patient_id`
	entryCols = `q.id, q.patient_id, q.station, q.ticket, q.queue_date, q.status, q.notes, q.called_by,
	q.called_at, q.served_at, q.completed_at, q.created_at, q.updated_at,
	p.code, p.first_name || ' ' || p.last_name`
)

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientID, &e.Station, &e.Ticket, &e.QueueDate, &e.Status, &e.Notes, &e.CalledBy,
		&e.CalledAt, &e.ServedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
		&e.PatientCode, &e.PatientName)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entryRepoPG) NextTicket(ctx context.Context, station string, day caldate.Date) (int, error) {
	var ticket int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_counter (station, queue_date, last_ticket) VALUES ($1, $2, 1)
		ON CONFLICT (station, queue_date) DO UPDATE SET last_ticket = queue_counter.last_ticket + 1
		RETURNING last_ticket`, station, day).Scan(&ticket)
	if err != nil {
		return 0, fmt.Errorf("next queue ticket: %w", err)
	}
	return ticket, nil
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (id, patient_id, station, ticket, queue_date, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.Station, e.Ticket, e.QueueDate, e.Status, e.Notes,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if apperr.IsUniqueViolation(err, "queue_entries_active_key") {
		return apperr.Conflict("patient is already queued at %s", e.Station)
	}
	return apperr.FromDB(err, "queue entry")
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM `+entryFrom+` WHERE q.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "queue entry")
	}
	return e, nil
}

func (r *entryRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM `+entryFrom+` WHERE q.id = $1 FOR UPDATE OF q`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "queue entry")
	}
	return e, nil
}

func (r *entryRepoPG) Update(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entries SET
			status = $2, called_by = $3, called_at = $4, served_at = $5, completed_at = $6, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		e.ID, e.Status, e.CalledBy, e.CalledAt, e.ServedAt, e.CompletedAt,
	).Scan(&e.UpdatedAt)
	if apperr.IsUniqueViolation(err, "queue_entries_active_key") {
		return apperr.Conflict("patient is already queued at %s", e.Station)
	}
	return apperr.FromDB(err, "queue entry")
}

func (r *entryRepoPG) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	qb := db.NewSearchQuery(entryFrom, entryCols)
	qb.Eq("q.queue_date", filter.Date)
	if filter.Station != "" {
		qb.Eq("q.station", filter.Station)
	}
	if filter.Status != "" {
		qb.Eq("q.status", filter.Status)
	}
	qb.OrderBy("q.station, q.ticket")

	rows, err := r.conn(ctx).Query(ctx, qb.AllSQL(), qb.CountArgs()...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *entryRepoPG) HasActive(ctx context.Context, patientID uuid.UUID, station string, day caldate.Date) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM queue_entries
			WHERE patient_id = $1 AND station = $2 AND queue_date = $3 AND status = ANY($4))`,
		patientID, station, day, activeStatuses).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active queue entry: %w", err)
	}
	return exists, nil
}

func (r *entryRepoPG) NextWaiting(ctx context.Context, station string, day caldate.Date) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM `+entryFrom+`
		WHERE q.station = $1 AND q.queue_date = $2 AND q.status = 'waiting'
		ORDER BY q.ticket
		LIMIT 1
		FOR UPDATE OF q SKIP LOCKED`, station, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next waiting entry: %w", err)
	}
	return e, nil
}
