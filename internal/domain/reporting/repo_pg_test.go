package reporting

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlab/lims/internal/platform/db/dbtest"
	"github.com/medlab/lims/pkg/caldate"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Main(m))
}

// seedRevenue stores one invoice with payments on both sides of the
// 2026-05-10..2026-05-11 UTC boundaries.
func seedRevenue(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	patientID, invoiceID := uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO patients (id, code, first_name, last_name, gender)
		VALUES ($1, 'P-1', 'Rita', 'Range', 'female')`, patientID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO patient_invoices (id, number, patient_id, subtotal, total, paid_amount, status, created_at)
		VALUES ($1, 'INV-1', $2, 200, 200, 150, 'partial', $3)`,
		invoiceID, patientID, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	payments := []struct {
		amount string
		at     time.Time
	}{
		{"80.00", time.Date(2026, 5, 9, 23, 59, 59, 0, time.UTC)},
		{"10.00", time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)},
		{"20.00", time.Date(2026, 5, 11, 23, 59, 59, 0, time.UTC)},
		{"40.00", time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)},
	}
	for _, p := range payments {
		_, err := pool.Exec(ctx, `
			INSERT INTO payments (id, invoice_id, amount, method, paid_at)
			VALUES ($1, $2, $3::numeric, 'cash', $4)`, uuid.New(), invoiceID, p.amount, p.at)
		require.NoError(t, err)
	}
}

func TestSourcePG_RangeIsInclusiveOfBothDays(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	seedRevenue(t, pool)
	svc := NewService(NewSource(pool), nil, zerolog.Nop())
	r := Range{From: caldate.New(2026, 5, 10), To: caldate.New(2026, 5, 11)}

	rev, err := svc.Revenue(ctx, r)
	require.NoError(t, err)
	require.Len(t, rev.Days, 2)
	assert.Equal(t, "10.00", rev.Days[0].Collected.StringFixed(2))
	assert.Equal(t, "20.00", rev.Days[1].Collected.StringFixed(2))
	assert.Equal(t, "30.00", rev.TotalCollected.StringFixed(2))
	assert.Equal(t, 1, rev.Days[0].Invoices)
	assert.Equal(t, "200.00", rev.TotalInvoiced.StringFixed(2))

	pay, err := svc.Payments(ctx, r)
	require.NoError(t, err)
	require.Len(t, pay.Methods, 1)
	assert.Equal(t, 2, pay.Methods[0].Count)
	assert.Equal(t, "30.00", pay.Total.StringFixed(2))

	// A single-day range still covers that whole day.
	one, err := svc.Payments(ctx, Range{From: r.To, To: r.To})
	require.NoError(t, err)
	assert.Equal(t, "20.00", one.Total.StringFixed(2))
}

func TestSourcePG_RangeFollowsLabTimeZone(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	seedRevenue(t, pool)
	svc := NewService(NewSource(pool), time.FixedZone("UTC+2", 2*60*60), zerolog.Nop())
	r := Range{From: caldate.New(2026, 5, 10), To: caldate.New(2026, 5, 11)}

	// Local days run from 22:00 UTC, so the late 05-09 payment falls on
	// 05-10 and the late 05-11 payment falls on 05-12.
	rev, err := svc.Revenue(ctx, r)
	require.NoError(t, err)
	require.Len(t, rev.Days, 2)
	assert.Equal(t, "90.00", rev.Days[0].Collected.StringFixed(2))
	assert.Equal(t, "0.00", rev.Days[1].Collected.StringFixed(2))
	assert.Equal(t, "90.00", rev.TotalCollected.StringFixed(2))
}
