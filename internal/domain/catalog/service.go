package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/pkg/money"
)

type Service struct {
	categories CategoryRepository
	tests      TestRepository
}

func NewService(categories CategoryRepository, tests TestRepository) *Service {
	return &Service{categories: categories, tests: tests}
}

// -- Categories --

func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("category name is required")
	}
	c := &Category{Name: name, Description: in.Description}
	if err := s.categories.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	return s.categories.GetByID(ctx, id)
}

func (s *Service) UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryInput) (*Category, error) {
	c, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("category name is required")
	}
	c.Name = name
	c.Description = in.Description
	if err := s.categories.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	n, err := s.categories.CountTests(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("category still has %d tests", n)
	}
	return s.categories.Delete(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context) ([]*Category, error) {
	return s.categories.List(ctx)
}

// -- Tests --

func (s *Service) CreateTest(ctx context.Context, in TestInput) (*LabTest, error) {
	t := &LabTest{Active: true}
	if err := s.apply(ctx, t, in); err != nil {
		return nil, err
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return s.tests.GetByID(ctx, id)
}

func (s *Service) UpdateTest(ctx context.Context, id uuid.UUID, in TestInput) (*LabTest, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, t, in); err != nil {
		return nil, err
	}
	if err := s.tests.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTest removes a test that was never ordered or billed. Referenced
// tests must be deactivated instead.
func (s *Service) DeleteTest(ctx context.Context, id uuid.UUID) error {
	used, err := s.tests.IsReferenced(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return apperr.Conflict("test has been ordered or billed; deactivate it instead")
	}
	return s.tests.Delete(ctx, id)
}

func (s *Service) ListTests(ctx context.Context, filter TestFilter, limit, offset int) ([]*LabTest, int, error) {
	filter.Query = strings.TrimSpace(filter.Query)
	return s.tests.List(ctx, filter, limit, offset)
}

// GetTests returns the tests for ids in the same order, repeating entries for
// repeated ids. Unknown ids are a validation error.
func (s *Service) GetTests(ctx context.Context, ids []uuid.UUID) ([]*LabTest, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("at least one test is required")
	}
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	found, err := s.tests.GetByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*LabTest, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]*LabTest, 0, len(ids))
	var missing []string
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			missing = append(missing, id.String())
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("unknown tests: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// GetActiveTests is GetTests that also refuses inactive tests.
func (s *Service) GetActiveTests(ctx context.Context, ids []uuid.UUID) ([]*LabTest, error) {
	tests, err := s.GetTests(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range tests {
		if !t.Active {
			return nil, apperr.InvalidState("test %s is inactive", t.Code)
		}
	}
	return tests, nil
}

func (s *Service) apply(ctx context.Context, t *LabTest, in TestInput) error {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	name := strings.TrimSpace(in.Name)
	if code == "" || name == "" {
		return apperr.Validation("code and name are required")
	}
	if !IsValidSampleType(in.SampleType) {
		return apperr.Validation("unknown sample_type %q", in.SampleType)
	}
	if in.Price.IsNegative() {
		return apperr.Validation("price must be >= 0")
	}
	if in.TurnaroundHours < 0 {
		return apperr.Validation("turnaround_hours must be >= 0")
	}
	if in.CategoryID != nil {
		c, err := s.categories.GetByID(ctx, *in.CategoryID)
		if err != nil {
			return err
		}
		t.CategoryName = &c.Name
	} else {
		t.CategoryName = nil
	}
	t.Code = code
	t.Name = name
	t.CategoryID = in.CategoryID
	t.SampleType = in.SampleType
	t.Price = money.Round(in.Price)
	t.TurnaroundHours = in.TurnaroundHours
	t.Unit = in.Unit
	t.NormalRange = in.NormalRange
	t.Description = in.Description
	if in.Active != nil {
		t.Active = *in.Active
	}
	return nil
}
