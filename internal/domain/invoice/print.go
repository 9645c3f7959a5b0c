package invoice

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medlab/lims/internal/domain/patient"
	"github.com/medlab/lims/pkg/money"
)

// Printer renders invoices as printable HTML pages. Times are shown in
// Location, UTC when nil.
type Printer struct {
	LabName  string
	Currency string
	Location *time.Location
}

type printView struct {
	LabName   string
	Currency  string
	Invoice   *Invoice
	Patient   *patient.Patient
	PrintedAt time.Time
}

var printTmpl = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(money.Places) },
	"date":  func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"inc":   func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Invoice {{.Invoice.Number}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border-bottom: 1px solid #ccc; padding: 4px 8px; text-align: left; }
td.num, th.num { text-align: right; }
.cancelled { color: #b00; font-weight: bold; }
</style>
</head>
<body>
<h1>{{.LabName}}</h1>
<h2>Invoice {{.Invoice.Number}}</h2>
{{if eq .Invoice.Status "cancelled"}}<p class="cancelled">CANCELLED{{with .Invoice.CancelReason}}: {{.}}{{end}}</p>{{end}}
<p>
Date: {{date .Invoice.CreatedAt}}<br>
Patient: {{.Patient.FullName}} ({{.Patient.Code}}){{with .Patient.Phone}}<br>
Phone: {{.}}{{end}}
</p>
<table>
<thead><tr><th>#</th><th>Description</th><th class="num">Qty</th><th class="num">Unit price</th><th class="num">Amount</th></tr></thead>
<tbody>
{{range $i, $it := .Invoice.Items}}<tr><td>{{inc $i}}</td><td>{{$it.Description}}</td><td class="num">{{$it.Quantity}}</td><td class="num">{{money $it.UnitPrice}}</td><td class="num">{{money $it.LineTotal}}</td></tr>
{{end}}</tbody>
</table>
<table>
<tr><th>Subtotal</th><td class="num">{{money .Invoice.Subtotal}} {{.Currency}}</td></tr>
{{if .Invoice.DiscountAmount.IsPositive}}<tr><th>Discount ({{money .Invoice.DiscountPercent}}%)</th><td class="num">-{{money .Invoice.DiscountAmount}} {{.Currency}}</td></tr>
{{end}}<tr><th>Total</th><td class="num">{{money .Invoice.Total}} {{.Currency}}</td></tr>
<tr><th>Paid</th><td class="num">{{money .Invoice.PaidAmount}} {{.Currency}}</td></tr>
<tr><th>Balance</th><td class="num">{{money .Invoice.Balance}} {{.Currency}}</td></tr>
</table>
{{if .Invoice.Payments}}<h3>Payments</h3>
<table>
<thead><tr><th>Date</th><th>Method</th><th>Reference</th><th class="num">Amount</th></tr></thead>
<tbody>
{{range .Invoice.Payments}}<tr><td>{{date .PaidAt}}</td><td>{{.Method}}</td><td>{{with .Reference}}{{.}}{{end}}</td><td class="num">{{money .Amount}}</td></tr>
{{end}}</tbody>
</table>
{{end}}<p><small>Printed {{date .PrintedAt}}</small></p>
</body>
</html>
`))

// Render writes the invoice page.
func (p *Printer) Render(inv *Invoice, pt *patient.Patient, now time.Time) ([]byte, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	tmpl, err := printTmpl.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone invoice template: %w", err)
	}
	tmpl.Funcs(template.FuncMap{
		"date": func(t time.Time) string { return t.In(loc).Format("2006-01-02 15:04") },
	})

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, printView{
		LabName:   p.LabName,
		Currency:  p.Currency,
		Invoice:   inv,
		Patient:   pt,
		PrintedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}

// Print loads the invoice and its patient and renders the printable page.
func (s *Service) Print(ctx context.Context, p *Printer, id uuid.UUID) ([]byte, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pt, err := s.patients.Get(ctx, inv.PatientID)
	if err != nil {
		return nil, err
	}
	return p.Render(inv, pt, s.now())
}
