package sample

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/internal/platform/db/dbtest"
	"github.com/medlab/lims/internal/platform/keylock"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Main(m))
}

// seedAssignment inserts a patient, a test and one pending assignment.
func seedAssignment(t *testing.T, pool *pgxpool.Pool) *Assignment {
	t.Helper()
	ctx := context.Background()
	patientID, testID := uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO patients (id, code, first_name, last_name, gender)
		VALUES ($1, 'P-' || $2::text, 'Test', 'Patient', 'male')`, patientID, patientID.String()[:8])
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO lab_tests (id, code, name, sample_type, price)
		VALUES ($1, 'T-' || $2::text, 'Glucose', 'blood', 12.50)`, testID, testID.String()[:8])
	require.NoError(t, err)

	repo := NewAssignmentRepo(pool)
	seq, err := repo.NextAccession(ctx)
	require.NoError(t, err)
	a := &Assignment{
		Accession: FormatAccession(seq),
		PatientID: patientID,
		TestID:    testID,
		Priority:  "routine",
		Status:    AssignmentPending,
	}
	require.NoError(t, repo.Create(ctx, a))
	return a
}

func newPGService(pool *pgxpool.Pool) *Service {
	return NewService(NewAssignmentRepo(pool), NewSampleRepo(pool), db.NewTransactor(pool),
		nil, nil, keylock.New(), zerolog.Nop())
}

func TestSampleRepoPG_CodeIsUnique(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	a := seedAssignment(t, pool)
	other := seedAssignment(t, pool)
	repo := NewSampleRepo(pool)

	first := &Sample{Code: FormatSampleCode(a.Accession, 1), AssignmentID: a.ID, Seq: 1, SampleType: "blood", Status: SampleCollected}
	require.NoError(t, repo.Create(ctx, first))

	// Same code on another assignment trips samples_code_key.
	dupCode := &Sample{Code: first.Code, AssignmentID: other.ID, Seq: 1, SampleType: "blood", Status: SampleCollected}
	assert.True(t, errors.Is(repo.Create(ctx, dupCode), ErrCodeTaken))

	// Same ordinal on the same assignment trips samples_assignment_seq_key.
	dupSeq := &Sample{Code: "X-1", AssignmentID: a.ID, Seq: 1, SampleType: "blood", Status: SampleCollected}
	assert.True(t, errors.Is(repo.Create(ctx, dupSeq), ErrCodeTaken))

	next, err := repo.NextSeq(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	got, err := repo.GetByCode(ctx, first.Code)
	require.NoError(t, err)
	assert.Equal(t, a.Accession, got.Accession)
	assert.Equal(t, a.ID, got.AssignmentID)
}

func TestServicePG_CreateSample_ConcurrentCodes(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	a := seedAssignment(t, pool)

	// Separate services stand in for separate processes: no shared lock map.
	svcs := []*Service{newPGService(pool), newPGService(pool)}

	const n = 10
	codes := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			smp, err := svcs[i%2].CreateSample(ctx, a.ID, CreateSampleRequest{})
			if assert.NoError(t, err) {
				codes[i] = smp.Code
			}
		}(i)
	}
	wg.Wait()

	sort.Strings(codes)
	for i, code := range codes {
		assert.Equal(t, FormatSampleCode(a.Accession, i+1), code)
	}

	got, err := NewAssignmentRepo(pool).GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentCollected, got.Status)
}

func TestServicePG_CreateSample_CollisionExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	a := seedAssignment(t, pool)
	other := seedAssignment(t, pool)

	// Another assignment already holds the code this one would draw next.
	squatter := &Sample{Code: FormatSampleCode(a.Accession, 1), AssignmentID: other.ID, Seq: 1, SampleType: "blood", Status: SampleCollected}
	require.NoError(t, NewSampleRepo(pool).Create(ctx, squatter))

	_, err := newPGService(pool).CreateSample(ctx, a.ID, CreateSampleRequest{})
	expectCode(t, err, "conflict")

	// Each attempt rolled back, so the assignment is untouched.
	got, err := NewAssignmentRepo(pool).GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentPending, got.Status)
}
