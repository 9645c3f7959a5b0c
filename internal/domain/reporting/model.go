package reporting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/pkg/caldate"
)

const (
	DefaultDays = 30
	MaxDays     = 366
)

// Report kinds.
const (
	KindRevenue    = "revenue"
	KindTests      = "tests"
	KindTurnaround = "turnaround"
	KindPayments   = "payments"
	KindInventory  = "inventory"
)

// KindInfo describes one report for clients building a report picker.
type KindInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Kinds lists the available reports in export sheet order.
var Kinds = []KindInfo{
	{ID: KindRevenue, Name: "Revenue", Description: "Invoiced and collected amounts per day"},
	{ID: KindTests, Name: "Tests", Description: "Ordered, completed and abnormal counts with revenue per test"},
	{ID: KindTurnaround, Name: "Turnaround", Description: "Hours from assignment to completed result per test"},
	{ID: KindPayments, Name: "Payments", Description: "Collected payments per method"},
	{ID: KindInventory, Name: "Inventory", Description: "Stock movement totals per material and reason"},
}

func findKind(id string) *KindInfo {
	for i := range Kinds {
		if Kinds[i].ID == id {
			return &Kinds[i]
		}
	}
	return nil
}

// Range is an inclusive span of calendar days.
type Range struct {
	From caldate.Date `json:"from"`
	To   caldate.Date `json:"to"`
}

// Bounds returns the range as the half-open interval [from, to+1day) with
// day boundaries at local midnight in loc.
func (r Range) Bounds(loc *time.Location) (time.Time, time.Time) {
	return r.From.Start(loc), r.To.AddDays(1).Start(loc)
}

// Rows fetched from storage. Aggregation happens in the service.

type InvoiceRow struct {
	CreatedAt time.Time
	Total     decimal.Decimal
	Paid      decimal.Decimal
	Status    string
}

type PaymentRow struct {
	PaidAt time.Time
	Amount decimal.Decimal
	Method string
}

type AssignmentRow struct {
	TestID      uuid.UUID
	TestCode    string
	TestName    string
	Status      string
	IsAbnormal  bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type TestItemRow struct {
	TestID    uuid.UUID
	TestCode  string
	TestName  string
	LineTotal decimal.Decimal
}

type MovementRow struct {
	MaterialID   uuid.UUID
	MaterialCode string
	MaterialName string
	Unit         string
	Reason       string
	Change       decimal.Decimal
}

// Dashboard is the landing page summary.
type Dashboard struct {
	TotalPatients       int             `json:"total_patients"`
	PatientsToday       int             `json:"patients_today"`
	AssignmentsByStatus map[string]int  `json:"assignments_by_status"`
	SamplesByStatus     map[string]int  `json:"samples_by_status"`
	RevenueToday        decimal.Decimal `json:"revenue_today"`
	RevenueMonth        decimal.Decimal `json:"revenue_month"`
	Outstanding         decimal.Decimal `json:"outstanding"`
	LowStock            int             `json:"low_stock"`
	QueueWaiting        int             `json:"queue_waiting"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

type RevenueDay struct {
	Date      caldate.Date    `json:"date"`
	Invoices  int             `json:"invoices"`
	Invoiced  decimal.Decimal `json:"invoiced"`
	Collected decimal.Decimal `json:"collected"`
}

type RevenueReport struct {
	Range
	Days           []RevenueDay    `json:"days"`
	TotalInvoiced  decimal.Decimal `json:"total_invoiced"`
	TotalCollected decimal.Decimal `json:"total_collected"`
}

type TestLine struct {
	TestID    uuid.UUID       `json:"test_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Ordered   int             `json:"ordered"`
	Completed int             `json:"completed"`
	Abnormal  int             `json:"abnormal"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type TestsReport struct {
	Range
	Tests []TestLine `json:"tests"`
}

type TurnaroundLine struct {
	TestID    uuid.UUID `json:"test_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Completed int       `json:"completed"`
	AvgHours  float64   `json:"avg_hours"`
	MaxHours  float64   `json:"max_hours"`
}

type TurnaroundReport struct {
	Range
	Tests []TurnaroundLine `json:"tests"`
}

type PaymentLine struct {
	Method string          `json:"method"`
	Count  int             `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

type PaymentsReport struct {
	Range
	Methods []PaymentLine   `json:"methods"`
	Total   decimal.Decimal `json:"total"`
}

type InventoryLine struct {
	MaterialID uuid.UUID       `json:"material_id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Unit       string          `json:"unit"`
	Reason     string          `json:"reason"`
	Movements  int             `json:"movements"`
	Total      decimal.Decimal `json:"total"`
}

type InventoryReport struct {
	Range
	Lines []InventoryLine `json:"lines"`
}
