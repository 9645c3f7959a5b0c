package caldate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	type wrapper struct {
		Birth  Date  `json:"birth"`
		Expiry *Date `json:"expiry"`
	}
	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"birth":"1990-05-17","expiry":null}`), &w))
	assert.Equal(t, New(1990, time.May, 17), w.Birth)
	assert.Nil(t, w.Expiry)

	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"birth":"1990-05-17","expiry":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"birth":"17/05/1990"}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"birth":19900517}`), &w))
}

func TestOfTruncates(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	d := Of(time.Date(2024, 2, 29, 23, 59, 0, 0, loc))
	assert.Equal(t, "2024-02-29", d.String())
	assert.Equal(t, "2024-03-01", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
}

func TestPgx(t *testing.T) {
	var d Date
	require.NoError(t, d.ScanDate(pgtype.Date{Time: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Valid: true}))
	assert.Equal(t, "2025-01-02", d.String())

	v, err := d.DateValue()
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, d.Time, v.Time)

	require.NoError(t, d.ScanDate(pgtype.Date{}))
	assert.True(t, d.IsZero())
}
