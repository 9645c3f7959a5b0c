package reporting

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/medlab/lims/internal/domain/sample"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/pkg/caldate"
	"github.com/medlab/lims/pkg/money"
)

type Service struct {
	source Source
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

// NewService reports in the lab's time zone; calendar days begin at local
// midnight in loc. A nil loc means UTC.
func NewService(source Source, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		source: source,
		loc:    loc,
		logger: logger.With().Str("component", "reporting").Logger(),
		now:    time.Now,
	}
}

func (s *Service) today() caldate.Date {
	return caldate.Of(s.now().In(s.loc))
}

// dayOf is the lab calendar date t falls on.
func (s *Service) dayOf(t time.Time) caldate.Date {
	return caldate.Of(t.In(s.loc))
}

// ResolveRange fills in missing bounds (the last DefaultDays days ending
// today) and rejects inverted or oversized ranges.
func (s *Service) ResolveRange(from, to *caldate.Date) (Range, error) {
	var r Range
	if to != nil {
		r.To = *to
	} else {
		r.To = s.today()
	}
	if from != nil {
		r.From = *from
	} else {
		r.From = r.To.AddDays(-(DefaultDays - 1))
	}
	if r.From.After(r.To) {
		return Range{}, apperr.Validation("from must not be after to")
	}
	if days := r.days(); days > MaxDays {
		return Range{}, apperr.Validation("range spans %d days, at most %d allowed", days, MaxDays)
	}
	return r, nil
}

func (r Range) days() int {
	return int(r.To.Sub(r.From.Time).Hours()/24) + 1
}

// Dashboard gathers the landing page figures concurrently.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now()
	today := s.dayOf(now)
	todayStart := today.Start(s.loc)
	monthStart := caldate.New(today.Year(), today.Month(), 1).Start(s.loc)
	tomorrow := today.AddDays(1).Start(s.loc)

	d := &Dashboard{GeneratedAt: now.UTC()}
	var payments []PaymentRow
	var open []InvoiceRow
	var assignments, samples []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.TotalPatients, d.PatientsToday, err = s.source.PatientCounts(gctx, todayStart)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = s.source.AssignmentStatuses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		samples, err = s.source.SampleStatuses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.source.Payments(gctx, monthStart, tomorrow)
		return err
	})
	g.Go(func() error {
		var err error
		open, err = s.source.OpenInvoices(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.LowStock, err = s.source.LowStockCount(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.QueueWaiting, err = s.source.QueueWaiting(gctx, today)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("dashboard query failed")
		return nil, err
	}

	d.AssignmentsByStatus = countBy(assignments)
	d.SamplesByStatus = countBy(samples)
	d.RevenueToday, d.RevenueMonth = decimal.Zero, decimal.Zero
	for _, p := range payments {
		d.RevenueMonth = d.RevenueMonth.Add(p.Amount)
		if !p.PaidAt.Before(todayStart) {
			d.RevenueToday = d.RevenueToday.Add(p.Amount)
		}
	}
	d.Outstanding = decimal.Zero
	for _, inv := range open {
		d.Outstanding = d.Outstanding.Add(inv.Total.Sub(inv.Paid))
	}
	d.RevenueToday = money.Round(d.RevenueToday)
	d.RevenueMonth = money.Round(d.RevenueMonth)
	d.Outstanding = money.Round(d.Outstanding)
	return d, nil
}

func countBy(values []string) map[string]int {
	out := make(map[string]int)
	for _, v := range values {
		out[v]++
	}
	return out
}

// Revenue reports invoiced and collected amounts for every day in range,
// including days with no activity.
func (s *Service) Revenue(ctx context.Context, r Range) (*RevenueReport, error) {
	from, to := r.Bounds(s.loc)
	var invoices []InvoiceRow
	var payments []PaymentRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		invoices, err = s.source.Invoices(gctx, from, to)
		return err
	})
	g.Go(func() (err error) {
		payments, err = s.source.Payments(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := r.days()
	out := &RevenueReport{Range: r, Days: make([]RevenueDay, n)}
	for i := range out.Days {
		out.Days[i] = RevenueDay{Date: r.From.AddDays(i), Invoiced: decimal.Zero, Collected: decimal.Zero}
	}
	index := func(t time.Time) int {
		return int(s.dayOf(t).Sub(r.From.Time).Hours() / 24)
	}
	for _, inv := range invoices {
		if i := index(inv.CreatedAt); i >= 0 && i < n {
			out.Days[i].Invoices++
			out.Days[i].Invoiced = out.Days[i].Invoiced.Add(inv.Total)
		}
	}
	for _, p := range payments {
		if i := index(p.PaidAt); i >= 0 && i < n {
			out.Days[i].Collected = out.Days[i].Collected.Add(p.Amount)
		}
	}
	out.TotalInvoiced, out.TotalCollected = decimal.Zero, decimal.Zero
	for _, d := range out.Days {
		out.TotalInvoiced = out.TotalInvoiced.Add(d.Invoiced)
		out.TotalCollected = out.TotalCollected.Add(d.Collected)
	}
	return out, nil
}

// Tests counts ordered, completed and abnormal assignments per test and
// the invoiced revenue for it. Busiest tests come first.
func (s *Service) Tests(ctx context.Context, r Range) (*TestsReport, error) {
	from, to := r.Bounds(s.loc)
	var assignments []AssignmentRow
	var items []TestItemRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		assignments, err = s.source.Assignments(gctx, from, to)
		return err
	})
	g.Go(func() (err error) {
		items, err = s.source.TestItems(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lines := make(map[uuid.UUID]*TestLine)
	line := func(id uuid.UUID, code, name string) *TestLine {
		l, ok := lines[id]
		if !ok {
			l = &TestLine{TestID: id, Code: code, Name: name, Revenue: decimal.Zero}
			lines[id] = l
		}
		return l
	}
	for _, a := range assignments {
		if a.Status == sample.AssignmentCancelled {
			continue
		}
		l := line(a.TestID, a.TestCode, a.TestName)
		l.Ordered++
		if a.Status == sample.AssignmentCompleted {
			l.Completed++
			if a.IsAbnormal {
				l.Abnormal++
			}
		}
	}
	for _, it := range items {
		l := line(it.TestID, it.TestCode, it.TestName)
		l.Revenue = l.Revenue.Add(it.LineTotal)
	}

	out := &TestsReport{Range: r, Tests: make([]TestLine, 0, len(lines))}
	for _, l := range lines {
		out.Tests = append(out.Tests, *l)
	}
	sort.Slice(out.Tests, func(i, j int) bool {
		a, b := out.Tests[i], out.Tests[j]
		if a.Ordered != b.Ordered {
			return a.Ordered > b.Ordered
		}
		return a.Code < b.Code
	})
	return out, nil
}

// Turnaround measures hours from assignment to completion for completed
// assignments created in range.
func (s *Service) Turnaround(ctx context.Context, r Range) (*TurnaroundReport, error) {
	from, to := r.Bounds(s.loc)
	assignments, err := s.source.Assignments(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type acc struct {
		line  TurnaroundLine
		hours float64
	}
	byTest := make(map[uuid.UUID]*acc)
	for _, a := range assignments {
		if a.Status != sample.AssignmentCompleted || a.CompletedAt == nil {
			continue
		}
		h := a.CompletedAt.Sub(a.CreatedAt).Hours()
		if h < 0 {
			h = 0
		}
		t, ok := byTest[a.TestID]
		if !ok {
			t = &acc{line: TurnaroundLine{TestID: a.TestID, Code: a.TestCode, Name: a.TestName}}
			byTest[a.TestID] = t
		}
		t.line.Completed++
		t.hours += h
		if h > t.line.MaxHours {
			t.line.MaxHours = h
		}
	}

	out := &TurnaroundReport{Range: r, Tests: make([]TurnaroundLine, 0, len(byTest))}
	for _, t := range byTest {
		t.line.AvgHours = round2(t.hours / float64(t.line.Completed))
		t.line.MaxHours = round2(t.line.MaxHours)
		out.Tests = append(out.Tests, t.line)
	}
	sort.Slice(out.Tests, func(i, j int) bool { return out.Tests[i].Code < out.Tests[j].Code })
	return out, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Payments totals collected payments per method.
func (s *Service) Payments(ctx context.Context, r Range) (*PaymentsReport, error) {
	from, to := r.Bounds(s.loc)
	payments, err := s.source.Payments(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byMethod := make(map[string]*PaymentLine)
	out := &PaymentsReport{Range: r, Methods: []PaymentLine{}, Total: decimal.Zero}
	for _, p := range payments {
		l, ok := byMethod[p.Method]
		if !ok {
			l = &PaymentLine{Method: p.Method, Total: decimal.Zero}
			byMethod[p.Method] = l
		}
		l.Count++
		l.Total = l.Total.Add(p.Amount)
		out.Total = out.Total.Add(p.Amount)
	}
	for _, l := range byMethod {
		out.Methods = append(out.Methods, *l)
	}
	sort.Slice(out.Methods, func(i, j int) bool { return out.Methods[i].Method < out.Methods[j].Method })
	return out, nil
}

// Inventory sums stock movements per material and reason.
func (s *Service) Inventory(ctx context.Context, r Range) (*InventoryReport, error) {
	from, to := r.Bounds(s.loc)
	movements, err := s.source.Movements(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type key struct {
		material uuid.UUID
		reason   string
	}
	byKey := make(map[key]*InventoryLine)
	for _, m := range movements {
		k := key{m.MaterialID, m.Reason}
		l, ok := byKey[k]
		if !ok {
			l = &InventoryLine{MaterialID: m.MaterialID, Code: m.MaterialCode, Name: m.MaterialName,
				Unit: m.Unit, Reason: m.Reason, Total: decimal.Zero}
			byKey[k] = l
		}
		l.Movements++
		l.Total = l.Total.Add(m.Change)
	}

	out := &InventoryReport{Range: r, Lines: make([]InventoryLine, 0, len(byKey))}
	for _, l := range byKey {
		out.Lines = append(out.Lines, *l)
	}
	sort.Slice(out.Lines, func(i, j int) bool {
		a, b := out.Lines[i], out.Lines[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Reason < b.Reason
	})
	return out, nil
}

// Report builds one report by kind.
func (s *Service) Report(ctx context.Context, kind string, r Range) (any, error) {
	switch kind {
	case KindRevenue:
		return s.Revenue(ctx, r)
	case KindTests:
		return s.Tests(ctx, r)
	case KindTurnaround:
		return s.Turnaround(ctx, r)
	case KindPayments:
		return s.Payments(ctx, r)
	case KindInventory:
		return s.Inventory(ctx, r)
	}
	return nil, apperr.NotFound("report " + kind)
}
