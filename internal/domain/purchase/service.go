package purchase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/domain/inventory"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/internal/platform/metrics"
	"github.com/medlab/lims/pkg/caldate"
	"github.com/medlab/lims/pkg/money"
)

// Stock is the inventory side of purchasing.
type Stock interface {
	GetMaterial(ctx context.Context, id uuid.UUID) (*inventory.Material, error)
	ReceiveStock(ctx context.Context, materialID uuid.UUID, qty decimal.Decimal, expiry *caldate.Date, reference string) (*inventory.Movement, error)
}

type Service struct {
	purchases PurchaseRepository
	tx        db.Transactor
	stock     Stock
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(purchases PurchaseRepository, tx db.Transactor, stock Stock, logger zerolog.Logger) *Service {
	return &Service{
		purchases: purchases,
		tx:        tx,
		stock:     stock,
		logger:    logger.With().Str("component", "purchase").Logger(),
		now:       time.Now,
	}
}

// Create records a draft purchase invoice.
func (s *Service) Create(ctx context.Context, in PurchaseInput) (*PurchaseInvoice, error) {
	p := &PurchaseInvoice{Status: StatusDraft, CreatedBy: auth.ActorFromContext(ctx)}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		seq, err := s.purchases.NextNumber(ctx)
		if err != nil {
			return err
		}
		p.Number = FormatNumber(s.now().Year(), seq)
		return s.purchases.Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("purchase", p.Number).Str("supplier", p.Supplier).Msg("purchase invoice created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error) {
	p, err := s.purchases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Items, err = s.purchases.Items(ctx, id); err != nil {
		return nil, err
	}
	if p.Items == nil {
		p.Items = []*Item{}
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]*PurchaseInvoice, int, error) {
	if filter.Status != "" && !validStatuses[filter.Status] {
		return nil, 0, apperr.Validation("unknown status %q", filter.Status)
	}
	filter.Supplier = strings.TrimSpace(filter.Supplier)
	return s.purchases.List(ctx, filter, limit, offset)
}

// Update rewrites a draft purchase invoice.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in PurchaseInput) (*PurchaseInvoice, error) {
	var out *PurchaseInvoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.purchases.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return apperr.InvalidState("purchase invoice %s is %s and can no longer be edited", p.Number, p.Status)
		}
		if err := s.apply(ctx, p, in); err != nil {
			return err
		}
		if err := s.purchases.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Receive books every item into stock and marks the invoice received, all
// in one transaction.
func (s *Service) Receive(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error) {
	var out *PurchaseInvoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.purchases.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return apperr.InvalidState("purchase invoice %s is already %s", p.Number, p.Status)
		}
		items, err := s.purchases.Items(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apperr.InvalidState("purchase invoice %s has no items", p.Number)
		}
		for _, it := range items {
			if _, err := s.stock.ReceiveStock(ctx, it.MaterialID, it.Quantity, it.ExpiryDate, p.Number); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		p.Status = StatusReceived
		p.ReceivedAt = &now
		p.ReceivedBy = auth.ActorFromContext(ctx)
		if err := s.purchases.SetStatus(ctx, p); err != nil {
			return err
		}
		p.Items = items
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.StockReceived()
	s.logger.Info().Str("purchase", out.Number).Int("items", len(out.Items)).Msg("purchase invoice received")
	return out, nil
}

// Cancel voids a draft purchase invoice.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*PurchaseInvoice, error) {
	var out *PurchaseInvoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.purchases.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return apperr.InvalidState("only draft purchase invoices can be cancelled (status is %s)", p.Status)
		}
		p.Status = StatusCancelled
		if err := s.purchases.SetStatus(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, p *PurchaseInvoice, in PurchaseInput) error {
	supplier := strings.TrimSpace(in.Supplier)
	if supplier == "" {
		return apperr.Validation("supplier is required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("a purchase invoice needs at least one item")
	}
	items := make([]*Item, 0, len(in.Items))
	lineTotals := make([]decimal.Decimal, 0, len(in.Items))
	for i, l := range in.Items {
		qty := l.Quantity.Round(inventory.QuantityPlaces)
		if !qty.IsPositive() {
			return apperr.Validation("item %d: quantity must be positive", i+1)
		}
		if l.UnitCost.IsNegative() {
			return apperr.Validation("item %d: unit_cost cannot be negative", i+1)
		}
		m, err := s.stock.GetMaterial(ctx, l.MaterialID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Validation("item %d: unknown material %s", i+1, l.MaterialID)
			}
			return err
		}
		cost := money.Round(l.UnitCost)
		it := &Item{
			MaterialID:   m.ID,
			Quantity:     qty,
			UnitCost:     cost,
			LineTotal:    money.Round(cost.Mul(qty)),
			BatchNo:      trimmed(l.BatchNo),
			ExpiryDate:   l.ExpiryDate,
			MaterialCode: m.Code,
			MaterialName: m.Name,
		}
		items = append(items, it)
		lineTotals = append(lineTotals, it.LineTotal)
	}
	p.Supplier = supplier
	p.SupplierRef = trimmed(in.SupplierRef)
	p.Notes = trimmed(in.Notes)
	p.Items = items
	p.Total = money.Round(money.Sum(lineTotals...))
	return nil
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
