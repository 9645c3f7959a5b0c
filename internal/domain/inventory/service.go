package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/pkg/caldate"
)

const (
	defaultExpiringDays = 30
	maxExpiringDays     = 365
)

type Service struct {
	materials MaterialRepository
	movements MovementRepository
	tx        db.Transactor
	loc       *time.Location
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService judges expiry against the calendar date in loc. A nil loc
// means UTC.
func NewService(materials MaterialRepository, movements MovementRepository, tx db.Transactor,
	loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		materials: materials,
		movements: movements,
		tx:        tx,
		loc:       loc,
		logger:    logger.With().Str("component", "inventory").Logger(),
		now:       time.Now,
	}
}

func (s *Service) today() caldate.Date {
	return caldate.Of(s.now().In(s.loc))
}

// -- Materials --

// CreateMaterial registers a material. A positive initial quantity is
// recorded as an opening adjustment.
func (s *Service) CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error) {
	if in.InitialQuantity.IsNegative() {
		return nil, apperr.Validation("initial_quantity cannot be negative")
	}
	m := &Material{Active: true}
	if err := s.apply(m, in); err != nil {
		return nil, err
	}
	m.Quantity = in.InitialQuantity.Round(QuantityPlaces)

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.materials.Create(ctx, m); err != nil {
			return err
		}
		if !m.Quantity.IsPositive() {
			return nil
		}
		note := "opening balance"
		return s.movements.Create(ctx, &Movement{
			MaterialID:   m.ID,
			Change:       m.Quantity,
			BalanceAfter: m.Quantity,
			Reason:       ReasonAdjustment,
			Note:         &note,
			CreatedBy:    auth.ActorFromContext(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) GetMaterial(ctx context.Context, id uuid.UUID) (*Material, error) {
	return s.materials.GetByID(ctx, id)
}

// UpdateMaterial changes descriptive fields. Stock only moves through
// adjustments and purchase receipts.
func (s *Service) UpdateMaterial(ctx context.Context, id uuid.UUID, in MaterialInput) (*Material, error) {
	m, err := s.materials.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(m, in); err != nil {
		return nil, err
	}
	if err := s.materials.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMaterial removes a material that never moved. Materials with history
// are deactivated instead.
func (s *Service) DeleteMaterial(ctx context.Context, id uuid.UUID) error {
	if _, err := s.materials.GetByID(ctx, id); err != nil {
		return err
	}
	moved, err := s.movements.ExistsForMaterial(ctx, id)
	if err != nil {
		return err
	}
	if moved {
		return apperr.Conflict("material has stock movements; deactivate it instead")
	}
	return s.materials.Delete(ctx, id)
}

func (s *Service) ListMaterials(ctx context.Context, filter MaterialFilter, limit, offset int) ([]*Material, int, error) {
	if filter.Category != "" && !validCategories[filter.Category] {
		return nil, 0, apperr.Validation("unknown category %q", filter.Category)
	}
	filter.Query = strings.TrimSpace(filter.Query)
	return s.materials.List(ctx, filter, limit, offset)
}

func (s *Service) apply(m *Material, in MaterialInput) error {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	name := strings.TrimSpace(in.Name)
	unit := strings.TrimSpace(in.Unit)
	if code == "" || name == "" || unit == "" {
		return apperr.Validation("code, name and unit are required")
	}
	if !validCategories[in.Category] {
		return apperr.Validation("category must be one of reagent, consumable, equipment, kit, other")
	}
	if in.MinQuantity.IsNegative() {
		return apperr.Validation("min_quantity cannot be negative")
	}
	m.Code = code
	m.Name = name
	m.Category = in.Category
	m.Unit = unit
	m.MinQuantity = in.MinQuantity.Round(QuantityPlaces)
	m.Supplier = trimmed(in.Supplier)
	m.Location = trimmed(in.Location)
	m.ExpiryDate = in.ExpiryDate
	m.Notes = trimmed(in.Notes)
	if in.Active != nil {
		m.Active = *in.Active
	}
	return nil
}

// -- Stock --

// AdjustStock applies a manual stock change under a row lock. Usage,
// expiry and damage only decrease stock; the balance never goes negative.
func (s *Service) AdjustStock(ctx context.Context, id uuid.UUID, req AdjustRequest) (*Movement, error) {
	change := req.Change.Round(QuantityPlaces)
	if change.IsZero() {
		return nil, apperr.Validation("change must not be zero")
	}
	switch req.Reason {
	case ReasonUsage, ReasonExpired, ReasonDamaged:
		if change.IsPositive() {
			return nil, apperr.Validation("%s must decrease stock", req.Reason)
		}
	case ReasonAdjustment:
	case ReasonPurchase:
		return nil, apperr.Validation("purchases are recorded by receiving a purchase invoice")
	default:
		return nil, apperr.Validation("unknown reason %q", req.Reason)
	}

	var mv *Movement
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.materials.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		balance := m.Quantity.Add(change)
		if balance.IsNegative() {
			return apperr.InvalidState("only %s %s of %s in stock", m.Quantity.String(), m.Unit, m.Code)
		}
		if err := s.materials.SetStock(ctx, m.ID, balance, m.ExpiryDate); err != nil {
			return err
		}
		mv = &Movement{
			MaterialID:   m.ID,
			Change:       change,
			BalanceAfter: balance,
			Reason:       req.Reason,
			Reference:    trimmed(req.Reference),
			Note:         trimmed(req.Note),
			CreatedBy:    auth.ActorFromContext(ctx),
			MaterialCode: m.Code,
			MaterialName: m.Name,
		}
		if err := s.movements.Create(ctx, mv); err != nil {
			return err
		}
		if balance.LessThanOrEqual(m.MinQuantity) && m.Active {
			s.logger.Warn().Str("material", m.Code).Str("quantity", balance.String()).Msg("material at or below minimum stock")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

// ReceiveStock books a purchased quantity. Called inside the purchase
// receipt transaction. The material's expiry becomes the earliest future
// batch expiry.
func (s *Service) ReceiveStock(ctx context.Context, materialID uuid.UUID, qty decimal.Decimal, expiry *caldate.Date, reference string) (*Movement, error) {
	qty = qty.Round(QuantityPlaces)
	if !qty.IsPositive() {
		return nil, apperr.Validation("received quantity must be positive")
	}
	var mv *Movement
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		m, err := s.materials.GetForUpdate(ctx, materialID)
		if err != nil {
			return err
		}
		balance := m.Quantity.Add(qty)
		if err := s.materials.SetStock(ctx, m.ID, balance, s.nextExpiry(m.ExpiryDate, expiry)); err != nil {
			return err
		}
		ref := reference
		mv = &Movement{
			MaterialID:   m.ID,
			Change:       qty,
			BalanceAfter: balance,
			Reason:       ReasonPurchase,
			Reference:    &ref,
			CreatedBy:    auth.ActorFromContext(ctx),
			MaterialCode: m.Code,
			MaterialName: m.Name,
		}
		return s.movements.Create(ctx, mv)
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

// nextExpiry keeps the earliest expiry that is still in the future.
func (s *Service) nextExpiry(current, batch *caldate.Date) *caldate.Date {
	today := s.today()
	if batch == nil || !batch.After(today) {
		return current
	}
	if current == nil || !current.After(today) || batch.Before(*current) {
		return batch
	}
	return current
}

func (s *Service) ListMovements(ctx context.Context, filter MovementFilter, limit, offset int) ([]*Movement, int, error) {
	if filter.Reason != "" && !validReasons[filter.Reason] {
		return nil, 0, apperr.Validation("unknown reason %q", filter.Reason)
	}
	return s.movements.List(ctx, filter, limit, offset)
}

func (s *Service) LowStock(ctx context.Context) ([]*Material, error) {
	out, err := s.materials.LowStock(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Material{}
	}
	return out, nil
}

// Expiring lists active materials expiring within days (already expired
// ones included).
func (s *Service) Expiring(ctx context.Context, days int) ([]*Material, error) {
	if days == 0 {
		days = defaultExpiringDays
	}
	if days < 0 || days > maxExpiringDays {
		return nil, apperr.Validation("days must be between 1 and %d", maxExpiringDays)
	}
	out, err := s.materials.ExpiringBefore(ctx, s.today().AddDays(days))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Material{}
	}
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
