package invoice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/domain/catalog"
	"github.com/medlab/lims/internal/domain/patient"
	"github.com/medlab/lims/internal/domain/sample"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/db"
)

// -- Mock Repository --

type mockInvoiceRepo struct {
	seq      int64
	invoices map[uuid.UUID]*Invoice
	items    map[uuid.UUID][]*Item
	payments map[uuid.UUID][]*Payment
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		items:    make(map[uuid.UUID][]*Item),
		payments: make(map[uuid.UUID][]*Payment),
	}
}

func (m *mockInvoiceRepo) NextNumber(_ context.Context) (int64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	for _, it := range inv.Items {
		it.ID = uuid.New()
		it.InvoiceID = inv.ID
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	m.items[inv.ID] = inv.Items
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice")
	}
	cp := *inv
	cp.Items, cp.Payments, cp.Assignments = nil, nil, nil
	cp.refreshBalance()
	return &cp, nil
}

func (m *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) Update(_ context.Context, inv *Invoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return apperr.NotFound("invoice")
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoiceRepo) List(_ context.Context, filter Filter, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.invoices {
		if filter.PatientID != nil && inv.PatientID != *filter.PatientID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (m *mockInvoiceRepo) Items(_ context.Context, invoiceID uuid.UUID) ([]*Item, error) {
	return m.items[invoiceID], nil
}

func (m *mockInvoiceRepo) AddPayment(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.PaidAt = time.Now()
	m.payments[p.InvoiceID] = append(m.payments[p.InvoiceID], p)
	return nil
}

func (m *mockInvoiceRepo) Payments(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return m.payments[invoiceID], nil
}

// -- Fakes --

type fakeCatalog struct {
	tests map[uuid.UUID]*catalog.LabTest
}

func (f *fakeCatalog) GetActiveTests(_ context.Context, ids []uuid.UUID) ([]*catalog.LabTest, error) {
	out := make([]*catalog.LabTest, 0, len(ids))
	for _, id := range ids {
		t, ok := f.tests[id]
		if !ok {
			return nil, apperr.Validation("unknown tests: %s", id)
		}
		if !t.Active {
			return nil, apperr.InvalidState("test %s is inactive", t.Code)
		}
		out = append(out, t)
	}
	return out, nil
}

type fakePatients struct {
	patients map[uuid.UUID]*patient.Patient
}

func (f *fakePatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	return p, nil
}

type fakeAssigner struct {
	requests  []sample.AssignRequest
	cancelled []uuid.UUID
	err       error
}

func (f *fakeAssigner) AssignTests(_ context.Context, req sample.AssignRequest) ([]*sample.Assignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	out := make([]*sample.Assignment, len(req.TestIDs))
	for i, id := range req.TestIDs {
		out[i] = &sample.Assignment{ID: uuid.New(), TestID: id, InvoiceID: req.InvoiceID, Status: sample.AssignmentPending}
	}
	return out, nil
}

func (f *fakeAssigner) CancelPendingForInvoice(_ context.Context, invoiceID uuid.UUID) (int, error) {
	f.cancelled = append(f.cancelled, invoiceID)
	return 1, nil
}

type testEnv struct {
	svc      *Service
	repo     *mockInvoiceRepo
	assigner *fakeAssigner
	patient  *patient.Patient
	cbc      *catalog.LabTest
	lipid    *catalog.LabTest
	retired  *catalog.LabTest
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:     newMockInvoiceRepo(),
		assigner: &fakeAssigner{},
		patient:  &patient.Patient{ID: uuid.New(), Code: "P000001", FirstName: "Ada", LastName: "Lovelace"},
		cbc:      &catalog.LabTest{ID: uuid.New(), Code: "CBC", Name: "Complete Blood Count", Price: decimal.RequireFromString("10.00"), Active: true},
		lipid:    &catalog.LabTest{ID: uuid.New(), Code: "LIPID", Name: "Lipid Panel", Price: decimal.RequireFromString("25.50"), Active: true},
		retired:  &catalog.LabTest{ID: uuid.New(), Code: "OLD", Name: "Retired", Price: decimal.RequireFromString("1"), Active: false},
	}
	cat := &fakeCatalog{tests: map[uuid.UUID]*catalog.LabTest{env.cbc.ID: env.cbc, env.lipid.ID: env.lipid, env.retired.ID: env.retired}}
	pats := &fakePatients{patients: map[uuid.UUID]*patient.Patient{env.patient.ID: env.patient}}
	env.svc = NewService(env.repo, db.NoopTransactor{}, cat, pats, env.assigner, zerolog.Nop())
	env.svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return env
}

func (env *testEnv) create(t *testing.T, req CreateRequest) *Invoice {
	t.Helper()
	if req.PatientID == uuid.Nil {
		req.PatientID = env.patient.ID
	}
	inv, err := env.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	var de *apperr.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *apperr.Error with code %s, got %v", code, err)
	}
	if de.Code != code {
		t.Errorf("expected code %s, got %s (%s)", code, de.Code, de.Message)
	}
}

// -- Create --

func TestService_Create_Totals(t *testing.T) {
	env := newTestEnv()
	price := dec("1.333")
	inv := env.create(t, CreateRequest{
		TestIDs:         []uuid.UUID{env.cbc.ID, env.lipid.ID},
		Items:           []ItemInput{{Description: "Home collection", Quantity: 3, UnitPrice: &price}},
		DiscountPercent: dec("10"),
	})

	if inv.Number != "INV-2026-000001" {
		t.Errorf("unexpected number %s", inv.Number)
	}
	if len(inv.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(inv.Items))
	}
	if inv.Items[0].Description != "Complete Blood Count" || inv.Items[0].TestID == nil {
		t.Errorf("test line should snapshot the catalog: %+v", inv.Items[0])
	}
	assertDec(t, "custom unit price", inv.Items[2].UnitPrice, "1.33")
	assertDec(t, "custom line", inv.Items[2].LineTotal, "3.99")
	assertDec(t, "subtotal", inv.Subtotal, "39.49")
	assertDec(t, "discount", inv.DiscountAmount, "3.95")
	assertDec(t, "total", inv.Total, "35.54")
	assertDec(t, "balance", inv.Balance, "35.54")
	if inv.Status != StatusUnpaid {
		t.Errorf("expected unpaid, got %s", inv.Status)
	}
	if len(env.assigner.requests) != 0 {
		t.Error("tests should not be assigned unless asked")
	}
}

func TestService_Create_SecondInvoiceNumber(t *testing.T) {
	env := newTestEnv()
	env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}})
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}})
	if inv.Number != "INV-2026-000002" {
		t.Errorf("unexpected number %s", inv.Number)
	}
}

func TestService_Create_AssignsTests(t *testing.T) {
	env := newTestEnv()
	inv := env.create(t, CreateRequest{
		TestIDs:     []uuid.UUID{env.cbc.ID, env.cbc.ID, env.lipid.ID},
		AssignTests: true,
		Priority:    "urgent",
	})

	if len(env.assigner.requests) != 1 {
		t.Fatalf("expected one assign call, got %d", len(env.assigner.requests))
	}
	req := env.assigner.requests[0]
	if req.InvoiceID == nil || *req.InvoiceID != inv.ID {
		t.Error("assignments should reference the invoice")
	}
	if len(req.TestIDs) != 2 || req.Priority != "urgent" {
		t.Errorf("expected the two distinct tests at urgent priority, got %+v", req)
	}
	if len(inv.Assignments) != 2 {
		t.Errorf("expected assignments in the response, got %d", len(inv.Assignments))
	}
	// A test billed twice is still two lines.
	assertDec(t, "subtotal", inv.Subtotal, "45.50")
}

func TestService_Create_AssignFailurePropagates(t *testing.T) {
	env := newTestEnv()
	env.assigner.err = apperr.InvalidState("boom")
	_, err := env.svc.Create(context.Background(), CreateRequest{
		PatientID: env.patient.ID, TestIDs: []uuid.UUID{env.cbc.ID}, AssignTests: true,
	})
	expectCode(t, err, "invalid_state")
}

func TestService_Create_Errors(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	noPrice := ItemInput{Description: "Misc"}

	tests := []struct {
		name string
		req  CreateRequest
		code string
	}{
		{"no items", CreateRequest{PatientID: env.patient.ID}, "validation_failed"},
		{"unknown patient", CreateRequest{PatientID: uuid.New(), TestIDs: []uuid.UUID{env.cbc.ID}}, "not_found"},
		{"discount too high", CreateRequest{PatientID: env.patient.ID, TestIDs: []uuid.UUID{env.cbc.ID}, DiscountPercent: dec("100.5")}, "validation_failed"},
		{"negative discount", CreateRequest{PatientID: env.patient.ID, TestIDs: []uuid.UUID{env.cbc.ID}, DiscountPercent: dec("-1")}, "validation_failed"},
		{"inactive test", CreateRequest{PatientID: env.patient.ID, TestIDs: []uuid.UUID{env.retired.ID}}, "invalid_state"},
		{"unknown test", CreateRequest{PatientID: env.patient.ID, TestIDs: []uuid.UUID{uuid.New()}}, "validation_failed"},
		{"custom line without price", CreateRequest{PatientID: env.patient.ID, Items: []ItemInput{noPrice}}, "validation_failed"},
		{"assign without tests", CreateRequest{PatientID: env.patient.ID, Items: []ItemInput{{Description: "x", UnitPrice: ptr(dec("1"))}}, AssignTests: true}, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(ctx, tt.req)
			expectCode(t, err, tt.code)
		})
	}
	if len(env.repo.invoices) != 0 {
		t.Errorf("no invoice should have been stored, got %d", len(env.repo.invoices))
	}
}

func TestService_Create_FullDiscountIsPaid(t *testing.T) {
	env := newTestEnv()
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}, DiscountPercent: dec("100")})
	assertDec(t, "total", inv.Total, "0")
	if inv.Status != StatusPaid {
		t.Errorf("expected paid, got %s", inv.Status)
	}
}

// -- Payments --

func TestService_RecordPayment(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID, env.lipid.ID}})

	got, err := env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("20"), Method: "cash"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPartial {
		t.Errorf("expected partial, got %s", got.Status)
	}
	assertDec(t, "balance", got.Balance, "15.50")
	if len(got.Payments) != 1 {
		t.Errorf("expected 1 payment, got %d", len(got.Payments))
	}

	_, err = env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("15.51"), Method: "card"})
	expectCode(t, err, "validation_failed")

	got, err = env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("15.50"), Method: "card"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected paid, got %s", got.Status)
	}
	assertDec(t, "paid", got.PaidAmount, "35.50")

	_, err = env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("1"), Method: "cash"})
	expectCode(t, err, "invalid_state")
}

func TestService_RecordPayment_Validation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}})

	_, err := env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("0"), Method: "cash"})
	expectCode(t, err, "validation_failed")
	_, err = env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("0.004"), Method: "cash"})
	expectCode(t, err, "validation_failed")
	_, err = env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("1"), Method: "barter"})
	expectCode(t, err, "validation_failed")
	_, err = env.svc.RecordPayment(ctx, uuid.New(), PaymentRequest{Amount: dec("1"), Method: "cash"})
	expectCode(t, err, "not_found")
}

// -- Cancel --

func TestService_Cancel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}, AssignTests: true})

	_, err := env.svc.Cancel(ctx, inv.ID, "  ")
	expectCode(t, err, "validation_failed")

	got, err := env.svc.Cancel(ctx, inv.ID, "duplicate order")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCancelled || got.CancelReason == nil || got.CancelledAt == nil {
		t.Errorf("unexpected cancelled invoice: %+v", got)
	}
	if len(env.assigner.cancelled) != 1 || env.assigner.cancelled[0] != inv.ID {
		t.Errorf("pending assignments should be cancelled, got %v", env.assigner.cancelled)
	}

	_, err = env.svc.Cancel(ctx, inv.ID, "again")
	expectCode(t, err, "invalid_state")
	_, err = env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("1"), Method: "cash"})
	expectCode(t, err, "invalid_state")
}

func TestService_Cancel_RefusedWithPayments(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}})
	if _, err := env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("5"), Method: "cash"}); err != nil {
		t.Fatal(err)
	}
	_, err := env.svc.Cancel(ctx, inv.ID, "changed mind")
	expectCode(t, err, "invalid_state")
	if len(env.assigner.cancelled) != 0 {
		t.Error("assignments must not be touched")
	}
}

// -- Print --

func TestService_Print(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	price := dec("2.5")
	inv := env.create(t, CreateRequest{
		TestIDs: []uuid.UUID{env.cbc.ID},
		Items:   []ItemInput{{Description: "<b>Courier</b>", UnitPrice: &price}},
	})
	if _, err := env.svc.RecordPayment(ctx, inv.ID, PaymentRequest{Amount: dec("4"), Method: "card"}); err != nil {
		t.Fatal(err)
	}

	page, err := env.svc.Print(ctx, &Printer{LabName: "Acme Lab", Currency: "EUR"}, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	html := string(page)
	for _, want := range []string{"Acme Lab", "INV-2026-000001", "Ada Lovelace", "Complete Blood Count", "12.50 EUR", "8.50 EUR", "card", "&lt;b&gt;Courier&lt;/b&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("printed page missing %q", want)
		}
	}
	if strings.Contains(html, "<b>Courier</b>") {
		t.Error("item descriptions must be escaped")
	}
}

func TestPrinter_RenderUsesLabTimeZone(t *testing.T) {
	created := time.Date(2026, 5, 10, 22, 30, 0, 0, time.UTC)
	inv := &Invoice{Number: "INV-2026-000009", Status: StatusUnpaid, CreatedAt: created}
	pt := &patient.Patient{Code: "P000001", FirstName: "Ada", LastName: "Lovelace"}
	p := &Printer{LabName: "Acme Lab", Currency: "USD", Location: time.FixedZone("UTC+3", 3*60*60)}

	page, err := p.Render(inv, pt, created)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(page), "Date: 2026-05-11 01:30") {
		t.Errorf("expected local invoice date, got:\n%s", page)
	}

	page, err = (&Printer{LabName: "Acme Lab"}).Render(inv, pt, created)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(page), "Date: 2026-05-10 22:30") {
		t.Error("expected UTC date without a location")
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber(2026, 42); got != "INV-2026-000042" {
		t.Errorf("unexpected %s", got)
	}
	if got := FormatNumber(2026, 1234567); got != "INV-2026-1234567" {
		t.Errorf("unexpected %s", got)
	}
}

func ptr[T any](v T) *T { return &v }
