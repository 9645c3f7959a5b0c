package invoice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/domain/catalog"
	"github.com/medlab/lims/internal/domain/patient"
	"github.com/medlab/lims/internal/domain/sample"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/internal/platform/metrics"
	"github.com/medlab/lims/pkg/money"
)

// TestCatalog prices billed tests.
type TestCatalog interface {
	GetActiveTests(ctx context.Context, ids []uuid.UUID) ([]*catalog.LabTest, error)
}

// PatientLookup confirms a patient exists.
type PatientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// TestAssigner orders billed tests and cancels them with the invoice.
type TestAssigner interface {
	AssignTests(ctx context.Context, req sample.AssignRequest) ([]*sample.Assignment, error)
	CancelPendingForInvoice(ctx context.Context, invoiceID uuid.UUID) (int, error)
}

type Service struct {
	invoices InvoiceRepository
	tx       db.Transactor
	tests    TestCatalog
	patients PatientLookup
	assigner TestAssigner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(invoices InvoiceRepository, tx db.Transactor, tests TestCatalog,
	patients PatientLookup, assigner TestAssigner, logger zerolog.Logger) *Service {
	return &Service{
		invoices: invoices,
		tx:       tx,
		tests:    tests,
		patients: patients,
		assigner: assigner,
		logger:   logger.With().Str("component", "invoice").Logger(),
		now:      time.Now,
	}
}

// Create bills the requested tests and free lines. Test prices are
// snapshotted from the catalog. With AssignTests set the billed tests are
// ordered in the same transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Invoice, error) {
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperr.Validation("discount_percent must be between 0 and 100")
	}
	if _, err := s.patients.Get(ctx, req.PatientID); err != nil {
		return nil, err
	}
	items, testIDs, err := s.buildItems(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.AssignTests && len(testIDs) == 0 {
		return nil, apperr.Validation("assign_tests needs at least one catalog test")
	}

	lineTotals := make([]decimal.Decimal, len(items))
	for i, it := range items {
		lineTotals[i] = it.LineTotal
	}
	discountPct := req.DiscountPercent.Round(money.Places)
	totals := money.Compute(lineTotals, discountPct)

	inv := &Invoice{
		PatientID:       req.PatientID,
		Subtotal:        totals.Subtotal,
		DiscountPercent: discountPct,
		DiscountAmount:  totals.DiscountAmount,
		Total:           totals.Total,
		PaidAmount:      decimal.Zero,
		Status:          StatusUnpaid,
		Notes:           trimmed(req.Notes),
		CreatedBy:       auth.ActorFromContext(ctx),
		Items:           items,
	}
	if inv.Total.IsZero() {
		inv.Status = StatusPaid
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		seq, err := s.invoices.NextNumber(ctx)
		if err != nil {
			return err
		}
		inv.Number = FormatNumber(s.now().Year(), seq)
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		if !req.AssignTests {
			return nil
		}
		assignments, err := s.assigner.AssignTests(ctx, sample.AssignRequest{
			PatientID: req.PatientID,
			TestIDs:   testIDs,
			Priority:  req.Priority,
			InvoiceID: &inv.ID,
		})
		if err != nil {
			return err
		}
		inv.Assignments = assignments
		return nil
	})
	if err != nil {
		return nil, err
	}
	inv.refreshBalance()

	metrics.InvoiceCreated()
	s.logger.Info().Str("invoice", inv.Number).Str("total", inv.Total.StringFixed(money.Places)).
		Int("assignments", len(inv.Assignments)).Msg("invoice created")
	return inv, nil
}

// buildItems resolves request lines into invoice items and returns the
// distinct billed test ids in request order.
func (s *Service) buildItems(ctx context.Context, req CreateRequest) ([]*Item, []uuid.UUID, error) {
	lines := make([]ItemInput, 0, len(req.TestIDs)+len(req.Items))
	for _, id := range req.TestIDs {
		lines = append(lines, ItemInput{TestID: &id, Quantity: 1})
	}
	lines = append(lines, req.Items...)
	if len(lines) == 0 {
		return nil, nil, apperr.Validation("an invoice needs at least one item")
	}

	var ids []uuid.UUID
	for _, l := range lines {
		if l.TestID != nil {
			ids = append(ids, *l.TestID)
		}
	}
	byID := map[uuid.UUID]*catalog.LabTest{}
	if len(ids) > 0 {
		tests, err := s.tests.GetActiveTests(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
		for _, t := range tests {
			byID[t.ID] = t
		}
	}

	items := make([]*Item, 0, len(lines))
	var testIDs []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for i, l := range lines {
		qty := l.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 0 {
			return nil, nil, apperr.Validation("item %d: quantity must be at least 1", i+1)
		}
		it := &Item{Quantity: qty, Description: strings.TrimSpace(l.Description)}
		if l.TestID != nil {
			t := byID[*l.TestID]
			it.TestID = &t.ID
			it.UnitPrice = t.Price
			if it.Description == "" {
				it.Description = t.Name
			}
			if !seen[t.ID] {
				seen[t.ID] = true
				testIDs = append(testIDs, t.ID)
			}
		} else {
			if it.Description == "" {
				return nil, nil, apperr.Validation("item %d: description is required", i+1)
			}
			if l.UnitPrice == nil || l.UnitPrice.IsNegative() {
				return nil, nil, apperr.Validation("item %d: unit_price is required", i+1)
			}
			it.UnitPrice = *l.UnitPrice
		}
		it.UnitPrice = money.Round(it.UnitPrice)
		it.LineTotal = money.LineTotal(it.UnitPrice, it.Quantity)
		items = append(items, it)
	}
	return items, testIDs, nil
}

// Get returns the invoice with its items and payments.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Items, err = s.invoices.Items(ctx, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = s.invoices.Payments(ctx, id); err != nil {
		return nil, err
	}
	if inv.Items == nil {
		inv.Items = []*Item{}
	}
	if inv.Payments == nil {
		inv.Payments = []*Payment{}
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]*Invoice, int, error) {
	if filter.Status != "" && !validStatuses[filter.Status] {
		return nil, 0, apperr.Validation("unknown status %q", filter.Status)
	}
	return s.invoices.List(ctx, filter, limit, offset)
}

// RecordPayment adds a payment of at most the outstanding balance.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*Invoice, error) {
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	if !validMethods[req.Method] {
		return nil, apperr.Validation("method must be one of cash, card, transfer, insurance")
	}

	var out *Invoice
	var payment *Payment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCancelled:
			return apperr.InvalidState("invoice %s is cancelled", inv.Number)
		case StatusPaid:
			return apperr.InvalidState("invoice %s is already paid", inv.Number)
		}
		if amount.GreaterThan(inv.Balance) {
			return apperr.Validation("amount %s exceeds the balance of %s",
				amount.StringFixed(money.Places), inv.Balance.StringFixed(money.Places))
		}

		payment = &Payment{
			InvoiceID:  inv.ID,
			Amount:     amount,
			Method:     req.Method,
			Reference:  trimmed(req.Reference),
			ReceivedBy: auth.ActorFromContext(ctx),
		}
		if err := s.invoices.AddPayment(ctx, payment); err != nil {
			return err
		}
		inv.PaidAmount = inv.PaidAmount.Add(amount)
		inv.refreshBalance()
		if inv.Balance.IsZero() {
			inv.Status = StatusPaid
		} else {
			inv.Status = StatusPartial
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	f, _ := amount.Float64()
	metrics.PaymentRecorded(req.Method, f)
	s.logger.Info().Str("invoice", out.Number).Str("amount", amount.StringFixed(money.Places)).
		Str("method", req.Method).Str("status", out.Status).Msg("payment recorded")
	return s.Get(ctx, out.ID)
}

// Cancel voids an invoice that has no payments and cancels its assignments
// that were not sampled yet.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}

	var out *Invoice
	var cancelled int
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return apperr.InvalidState("invoice %s is already cancelled", inv.Number)
		}
		if inv.PaidAmount.IsPositive() {
			return apperr.InvalidState("invoice %s has payments and cannot be cancelled", inv.Number)
		}
		now := s.now().UTC()
		inv.Status = StatusCancelled
		inv.CancelReason = &reason
		inv.CancelledAt = &now
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		if cancelled, err = s.assigner.CancelPendingForInvoice(ctx, inv.ID); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("invoice", out.Number).Int("assignments_cancelled", cancelled).Msg("invoice cancelled")
	return out, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
