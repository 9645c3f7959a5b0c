package sample

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/domain/catalog"
	"github.com/medlab/lims/internal/domain/patient"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/internal/platform/keylock"
	"github.com/medlab/lims/internal/platform/metrics"
)

// maxCodeAttempts bounds sample-code allocation when the unique index
// rejects a code taken by another process.
const maxCodeAttempts = 3

// TestCatalog resolves ordered tests.
type TestCatalog interface {
	GetActiveTests(ctx context.Context, ids []uuid.UUID) ([]*catalog.LabTest, error)
}

// PatientLookup confirms a patient exists.
type PatientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	assignments AssignmentRepository
	samples     SampleRepository
	tx          db.Transactor
	tests       TestCatalog
	patients    PatientLookup
	locks       *keylock.Map
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(assignments AssignmentRepository, samples SampleRepository, tx db.Transactor,
	tests TestCatalog, patients PatientLookup, locks *keylock.Map, logger zerolog.Logger) *Service {
	return &Service{
		assignments: assignments,
		samples:     samples,
		tx:          tx,
		tests:       tests,
		patients:    patients,
		locks:       locks,
		logger:      logger.With().Str("component", "sample").Logger(),
		now:         time.Now,
	}
}

// -- Assignments --

// AssignTests orders every test for the patient, one assignment per test.
// Called with a transaction context (e.g. from invoicing) the assignments
// join that transaction.
func (s *Service) AssignTests(ctx context.Context, req AssignRequest) ([]*Assignment, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = "routine"
	}
	if !validPriorities[priority] {
		return nil, apperr.Validation("priority must be one of routine, urgent, stat")
	}
	p, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	tests, err := s.tests.GetActiveTests(ctx, req.TestIDs)
	if err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	out := make([]*Assignment, 0, len(tests))
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, t := range tests {
			seq, err := s.assignments.NextAccession(ctx)
			if err != nil {
				return err
			}
			a := &Assignment{
				Accession:   FormatAccession(seq),
				PatientID:   req.PatientID,
				TestID:      t.ID,
				InvoiceID:   req.InvoiceID,
				Priority:    priority,
				Status:      AssignmentPending,
				AssignedBy:  actor,
				TestCode:    t.Code,
				TestName:    t.Name,
				SampleType:  t.SampleType,
				PatientCode: p.Code,
				PatientName: p.FullName(),
			}
			if err := s.assignments.Create(ctx, a); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", req.PatientID.String()).Int("count", len(out)).Msg("tests assigned")
	return out, nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	a, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	samples, err := s.samples.ListByAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []*Sample{}
	}
	a.Samples = samples
	return a, nil
}

func (s *Service) ListAssignments(ctx context.Context, filter AssignmentFilter, limit, offset int) ([]*Assignment, int, error) {
	if filter.Status != "" && !validAssignmentStatuses[filter.Status] {
		return nil, 0, apperr.Validation("unknown status %q", filter.Status)
	}
	if filter.Priority != "" && !validPriorities[filter.Priority] {
		return nil, 0, apperr.Validation("unknown priority %q", filter.Priority)
	}
	return s.assignments.List(ctx, filter, limit, offset)
}

func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.mutateAssignment(ctx, id, func(ctx context.Context, a *Assignment) error {
		if a.Status != AssignmentCollected {
			return apperr.InvalidState("only collected assignments can start processing (status is %s)", a.Status)
		}
		a.Status = AssignmentInProgress
		a.PerformedBy = auth.ActorFromContext(ctx)
		return nil
	})
}

// RecordResult stores the result and completes the assignment. At least one
// sample that was not rejected must exist.
func (s *Service) RecordResult(ctx context.Context, id uuid.UUID, req ResultRequest) (*Assignment, error) {
	value := strings.TrimSpace(req.Value)
	if value == "" {
		return nil, apperr.Validation("value is required")
	}
	return s.mutateAssignment(ctx, id, func(ctx context.Context, a *Assignment) error {
		if a.Status != AssignmentCollected && a.Status != AssignmentInProgress {
			return apperr.InvalidState("results can only be recorded for collected or in-progress assignments (status is %s)", a.Status)
		}
		samples, err := s.samples.ListByAssignment(ctx, a.ID)
		if err != nil {
			return err
		}
		if !hasUsableSample(samples) {
			return apperr.InvalidState("assignment has no usable sample")
		}
		now := s.now().UTC()
		a.Status = AssignmentCompleted
		a.ResultValue = &value
		a.ResultUnit = req.Unit
		a.ResultNotes = req.Notes
		a.IsAbnormal = req.IsAbnormal
		a.PerformedBy = auth.ActorFromContext(ctx)
		a.CompletedAt = &now
		return nil
	})
}

func (s *Service) CancelAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.mutateAssignment(ctx, id, func(_ context.Context, a *Assignment) error {
		if !acceptsSamples(a.Status) {
			return apperr.InvalidState("assignment is already %s", a.Status)
		}
		a.Status = AssignmentCancelled
		return nil
	})
}

// CancelPendingForInvoice cancels the not-yet-sampled assignments billed on
// an invoice.
func (s *Service) CancelPendingForInvoice(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	return s.assignments.CancelPendingByInvoice(ctx, invoiceID)
}

// mutateAssignment applies fn to the row-locked assignment inside a
// transaction while holding the assignment's process-local lock.
func (s *Service) mutateAssignment(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, a *Assignment) error) (*Assignment, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	var out *Assignment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.assignments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, a); err != nil {
			return err
		}
		if err := s.assignments.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// -- Samples --

// CreateSample draws a new sample for an assignment. Codes are
// <accession>-<NN> with NN the next ordinal within the assignment. The
// assignment's lock serializes generation in this process; the unique index
// on code catches writers in other processes, and a collision is retried.
func (s *Service) CreateSample(ctx context.Context, assignmentID uuid.UUID, req CreateSampleRequest) (*Sample, error) {
	if req.SampleType != "" && !catalog.IsValidSampleType(req.SampleType) {
		return nil, apperr.Validation("unknown sample_type %q", req.SampleType)
	}

	unlock := s.locks.Lock(assignmentID.String())
	defer unlock()

	var created *Sample
	for attempt := 1; ; attempt++ {
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			smp, err := s.createSample(ctx, assignmentID, req)
			if err != nil {
				return err
			}
			created = smp
			return nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		if attempt >= maxCodeAttempts {
			s.logger.Error().Str("assignment_id", assignmentID.String()).Int("attempts", attempt).Msg("sample code allocation exhausted")
			return nil, apperr.Conflict("could not allocate a unique sample code, please retry")
		}
		metrics.SampleCodeRetry()
		s.logger.Warn().Str("assignment_id", assignmentID.String()).Int("attempt", attempt).Msg("sample code collision, retrying")
	}

	metrics.SampleCreated(created.SampleType)
	s.logger.Info().Str("sample_code", created.Code).Str("assignment_id", assignmentID.String()).Msg("sample collected")
	return created, nil
}

func (s *Service) createSample(ctx context.Context, assignmentID uuid.UUID, req CreateSampleRequest) (*Sample, error) {
	a, err := s.assignments.GetForUpdate(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !acceptsSamples(a.Status) {
		return nil, apperr.InvalidState("cannot add samples to a %s assignment", a.Status)
	}
	seq, err := s.samples.NextSeq(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	sampleType := req.SampleType
	if sampleType == "" {
		sampleType = a.SampleType
	}
	smp := &Sample{
		Code:         FormatSampleCode(a.Accession, seq),
		AssignmentID: a.ID,
		Seq:          seq,
		SampleType:   sampleType,
		Status:       SampleCollected,
		CollectedBy:  auth.ActorFromContext(ctx),
		CollectedAt:  s.now().UTC(),
		Notes:        req.Notes,
		Accession:    a.Accession,
		PatientID:    a.PatientID,
		TestCode:     a.TestCode,
	}
	if err := s.samples.Create(ctx, smp); err != nil {
		return nil, err
	}
	if a.Status == AssignmentPending {
		a.Status = AssignmentCollected
		if err := s.assignments.Update(ctx, a); err != nil {
			return nil, err
		}
	}
	return smp, nil
}

// UpdateSampleStatus moves a sample along its lifecycle. Rejecting the last
// usable sample of a collected assignment returns the assignment to pending
// so a new sample can be drawn.
func (s *Service) UpdateSampleStatus(ctx context.Context, id uuid.UUID, req SampleStatusRequest) (*Sample, error) {
	if !validSampleStatuses[req.Status] {
		return nil, apperr.Validation("unknown status %q", req.Status)
	}
	var reason *string
	if req.Reason != nil {
		if r := strings.TrimSpace(*req.Reason); r != "" {
			reason = &r
		}
	}
	if req.Status == SampleRejected && reason == nil {
		return nil, apperr.Validation("a reason is required to reject a sample")
	}

	current, err := s.samples.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(current.AssignmentID.String())
	defer unlock()

	var out *Sample
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.assignments.GetForUpdate(ctx, current.AssignmentID)
		if err != nil {
			return err
		}
		smp, err := s.samples.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !canTransition(sampleTransitions, smp.Status, req.Status) {
			return apperr.InvalidState("cannot move sample from %s to %s", smp.Status, req.Status)
		}
		smp.Status = req.Status
		switch req.Status {
		case SampleReceived:
			now := s.now().UTC()
			smp.ReceivedAt = &now
		case SampleRejected:
			smp.RejectionReason = reason
		}
		if err := s.samples.Update(ctx, smp); err != nil {
			return err
		}
		out = smp

		if req.Status != SampleRejected || a.Status != AssignmentCollected {
			return nil
		}
		siblings, err := s.samples.ListByAssignment(ctx, a.ID)
		if err != nil {
			return err
		}
		if hasUsableSample(siblings) {
			return nil
		}
		a.Status = AssignmentPending
		s.logger.Info().Str("assignment_id", a.ID.String()).Msg("all samples rejected, assignment back to pending")
		return s.assignments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetSample(ctx context.Context, id uuid.UUID) (*Sample, error) {
	return s.samples.GetByID(ctx, id)
}

func (s *Service) GetSampleByCode(ctx context.Context, code string) (*Sample, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("code is required")
	}
	return s.samples.GetByCode(ctx, code)
}

func (s *Service) ListSamples(ctx context.Context, filter SampleFilter, limit, offset int) ([]*Sample, int, error) {
	if filter.Status != "" && !validSampleStatuses[filter.Status] {
		return nil, 0, apperr.Validation("unknown status %q", filter.Status)
	}
	return s.samples.List(ctx, filter, limit, offset)
}

// hasUsableSample reports whether any sample was never rejected. A rejected
// sample stays unusable after disposal.
func hasUsableSample(samples []*Sample) bool {
	for _, smp := range samples {
		if smp.Status != SampleRejected && smp.RejectionReason == nil {
			return true
		}
	}
	return false
}
