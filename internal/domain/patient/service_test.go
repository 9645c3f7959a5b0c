package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/pkg/caldate"
)

// -- Mock Repository --

type mockPatientRepo struct {
	patients    map[uuid.UUID]*Patient
	seq         int64
	dependents  map[uuid.UUID]bool
	assignments map[uuid.UUID][]*AssignmentSummary
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{
		patients:    make(map[uuid.UUID]*Patient),
		dependents:  make(map[uuid.UUID]bool),
		assignments: make(map[uuid.UUID][]*AssignmentSummary),
	}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	if p.NationalID != nil {
		for _, existing := range m.patients {
			if existing.NationalID != nil && *existing.NationalID == *p.NationalID {
				return apperr.Conflict("a patient with this national id already exists")
			}
		}
	}
	m.seq++
	p.ID = uuid.New()
	p.Code = FormatCode(m.seq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	return p, nil
}

func (m *mockPatientRepo) GetByCode(_ context.Context, code string) (*Patient, error) {
	for _, p := range m.patients {
		if p.Code == strings.ToUpper(code) {
			return p, nil
		}
	}
	return nil, apperr.NotFound("patient")
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return apperr.NotFound("patient")
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("patient")
	}
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) Search(_ context.Context, filter SearchFilter, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	q := strings.ToLower(filter.Query)
	for _, p := range m.patients {
		if filter.Gender != "" && p.Gender != filter.Gender {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Code+" "+p.FullName()), q) {
			continue
		}
		result = append(result, p)
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockPatientRepo) HasDependents(_ context.Context, id uuid.UUID) (bool, error) {
	return m.dependents[id], nil
}

func (m *mockPatientRepo) Assignments(_ context.Context, id uuid.UUID) ([]*AssignmentSummary, error) {
	return m.assignments[id], nil
}

func (m *mockPatientRepo) Invoices(_ context.Context, _ uuid.UUID) ([]*InvoiceSummary, error) {
	return nil, nil
}

func newTestService() (*Service, *mockPatientRepo) {
	repo := newMockPatientRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func strPtr(s string) *string { return &s }

func validInput() PatientInput {
	return PatientInput{FirstName: " Ada ", LastName: "Lovelace", Gender: "female", Phone: strPtr(" 555-0100 ")}
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Code != "P000001" {
		t.Errorf("expected P000001, got %s", p.Code)
	}
	if p.FirstName != "Ada" || *p.Phone != "555-0100" {
		t.Errorf("expected trimmed fields, got %q %q", p.FirstName, *p.Phone)
	}

	p2, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if p2.Code != "P000002" {
		t.Errorf("expected sequential code P000002, got %s", p2.Code)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc, _ := newTestService()
	future := caldate.Today().AddDays(2)

	tests := []struct {
		name   string
		mutate func(*PatientInput)
	}{
		{"blank first name", func(in *PatientInput) { in.FirstName = "  " }},
		{"bad gender", func(in *PatientInput) { in.Gender = "unknown" }},
		{"future birth date", func(in *PatientInput) { in.BirthDate = &future }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			var de *apperr.Error
			if !errors.As(err, &de) || de.Status != 400 {
				t.Errorf("expected 400 validation error, got %v", err)
			}
		})
	}
}

func TestService_Create_BlankOptionalBecomesNil(t *testing.T) {
	svc, _ := newTestService()
	in := validInput()
	in.Email = strPtr("   ")
	p, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != nil {
		t.Errorf("expected blank email to be stored as nil, got %q", *p.Email)
	}
}

func TestService_Create_DuplicateNationalID(t *testing.T) {
	svc, _ := newTestService()
	in := validInput()
	in.NationalID = strPtr("ID-1")
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_Update(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validInput())

	in := validInput()
	in.LastName = "Byron"
	updated, err := svc.Update(context.Background(), p.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if updated.LastName != "Byron" || updated.Code != p.Code {
		t.Errorf("unexpected update result: %+v", updated)
	}

	_, err = svc.Update(context.Background(), uuid.New(), in)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, repo := newTestService()
	free, _ := svc.Create(context.Background(), validInput())
	used, _ := svc.Create(context.Background(), validInput())
	repo.dependents[used.ID] = true

	if err := svc.Delete(context.Background(), free.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.Delete(context.Background(), used.ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict for patient with records, got %v", err)
	}
	if _, ok := repo.patients[used.ID]; !ok {
		t.Error("patient with records must not be deleted")
	}
}

func TestService_GetByCode(t *testing.T) {
	svc, _ := newTestService()
	p, _ := svc.Create(context.Background(), validInput())

	got, err := svc.GetByCode(context.Background(), " p000001 ")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != p.ID {
		t.Error("wrong patient returned")
	}
	if _, err := svc.GetByCode(context.Background(), ""); err == nil {
		t.Error("expected error for empty code")
	}
}

func TestService_History(t *testing.T) {
	svc, repo := newTestService()
	p, _ := svc.Create(context.Background(), validInput())
	repo.assignments[p.ID] = []*AssignmentSummary{{ID: uuid.New(), Accession: "A000001", Status: "pending"}}

	hist, err := svc.History(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist.Assignments) != 1 {
		t.Errorf("expected 1 assignment, got %d", len(hist.Assignments))
	}
	if hist.Invoices == nil {
		t.Error("invoices should be an empty list, not nil")
	}
}

func TestService_Search_InvalidGender(t *testing.T) {
	svc, _ := newTestService()
	_, _, err := svc.Search(context.Background(), SearchFilter{Gender: "x"}, 20, 0)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestFormatCode(t *testing.T) {
	if got := FormatCode(42); got != "P000042" {
		t.Errorf("got %s", got)
	}
	if got := FormatCode(1234567); got != "P1234567" {
		t.Errorf("codes must not be truncated, got %s", got)
	}
}
