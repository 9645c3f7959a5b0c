package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/metrics"
	"github.com/medlab/lims/pkg/caldate"
)

type Service struct {
	patients PatientRepository
	logger   zerolog.Logger
}

func NewService(patients PatientRepository, logger zerolog.Logger) *Service {
	return &Service{patients: patients, logger: logger.With().Str("component", "patient").Logger()}
}

func (s *Service) Create(ctx context.Context, in PatientInput) (*Patient, error) {
	p := &Patient{CreatedBy: auth.ActorFromContext(ctx)}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	metrics.PatientRegistered()
	s.logger.Info().Str("patient_id", p.ID.String()).Str("code", p.Code).Msg("patient registered")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Patient, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("code is required")
	}
	return s.patients.GetByCode(ctx, code)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in PatientInput) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(p, in); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a patient that has no clinical or billing records.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.patients.GetByID(ctx, id); err != nil {
		return err
	}
	used, err := s.patients.HasDependents(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return apperr.Conflict("patient has invoices or test assignments and cannot be deleted")
	}
	return s.patients.Delete(ctx, id)
}

func (s *Service) Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Patient, int, error) {
	if filter.Gender != "" && !validGenders[filter.Gender] {
		return nil, 0, apperr.Validation("gender must be one of male, female, other")
	}
	filter.Query = strings.TrimSpace(filter.Query)
	return s.patients.Search(ctx, filter, limit, offset)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) (*History, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	assignments, err := s.patients.Assignments(ctx, id)
	if err != nil {
		return nil, err
	}
	invoices, err := s.patients.Invoices(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []*AssignmentSummary{}
	}
	if invoices == nil {
		invoices = []*InvoiceSummary{}
	}
	return &History{Patient: p, Assignments: assignments, Invoices: invoices}, nil
}

func apply(p *Patient, in PatientInput) error {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if !validGenders[in.Gender] {
		return apperr.Validation("gender must be one of male, female, other")
	}
	if in.BirthDate != nil && in.BirthDate.After(caldate.Today()) {
		return apperr.Validation("birth_date cannot be in the future")
	}
	p.FirstName = first
	p.LastName = last
	p.Gender = in.Gender
	p.BirthDate = in.BirthDate
	p.Phone = trimmed(in.Phone)
	p.Email = trimmed(in.Email)
	p.Address = trimmed(in.Address)
	p.NationalID = trimmed(in.NationalID)
	p.ReferredBy = trimmed(in.ReferredBy)
	p.Notes = trimmed(in.Notes)
	return nil
}

// trimmed returns nil for absent or blank strings.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
