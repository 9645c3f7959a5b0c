package reporting

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/medlab/lims/internal/platform/apperr"
)

// XLSXContentType is the media type of exported workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Export renders the requested reports as an XLSX workbook with one sheet
// per kind. No kinds means every report.
func (s *Service) Export(ctx context.Context, kinds []string, r Range) ([]byte, error) {
	if len(kinds) == 0 {
		for _, k := range Kinds {
			kinds = append(kinds, k.ID)
		}
	}
	seen := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		if findKind(k) == nil {
			return nil, apperr.Validation("unknown report %q", k)
		}
		if seen[k] {
			return nil, apperr.Validation("report %q requested twice", k)
		}
		seen[k] = true
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close workbook")
		}
	}()
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("workbook style: %w", err)
	}

	for i, kind := range kinds {
		rows, err := s.sheetRows(ctx, kind, r)
		if err != nil {
			return nil, err
		}
		name := findKind(kind).Name
		if i == 0 {
			err = f.SetSheetName("Sheet1", name)
		} else {
			_, err = f.NewSheet(name)
		}
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, header, rows); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if len(rows) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(rows[0]))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 16)
}

// sheetRows returns a header row followed by one row per report line.
// Amounts go out as numbers so spreadsheets can sum them.
func (s *Service) sheetRows(ctx context.Context, kind string, r Range) ([][]any, error) {
	switch kind {
	case KindRevenue:
		rep, err := s.Revenue(ctx, r)
		if err != nil {
			return nil, err
		}
		rows := [][]any{{"Date", "Invoices", "Invoiced", "Collected"}}
		for _, d := range rep.Days {
			rows = append(rows, []any{d.Date.String(), d.Invoices, d.Invoiced.InexactFloat64(), d.Collected.InexactFloat64()})
		}
		return append(rows, []any{"Total", nil, rep.TotalInvoiced.InexactFloat64(), rep.TotalCollected.InexactFloat64()}), nil
	case KindTests:
		rep, err := s.Tests(ctx, r)
		if err != nil {
			return nil, err
		}
		rows := [][]any{{"Code", "Test", "Ordered", "Completed", "Abnormal", "Revenue"}}
		for _, t := range rep.Tests {
			rows = append(rows, []any{t.Code, t.Name, t.Ordered, t.Completed, t.Abnormal, t.Revenue.InexactFloat64()})
		}
		return rows, nil
	case KindTurnaround:
		rep, err := s.Turnaround(ctx, r)
		if err != nil {
			return nil, err
		}
		rows := [][]any{{"Code", "Test", "Completed", "Average hours", "Max hours"}}
		for _, t := range rep.Tests {
			rows = append(rows, []any{t.Code, t.Name, t.Completed, t.AvgHours, t.MaxHours})
		}
		return rows, nil
	case KindPayments:
		rep, err := s.Payments(ctx, r)
		if err != nil {
			return nil, err
		}
		rows := [][]any{{"Method", "Payments", "Total"}}
		for _, m := range rep.Methods {
			rows = append(rows, []any{m.Method, m.Count, m.Total.InexactFloat64()})
		}
		return append(rows, []any{"Total", nil, rep.Total.InexactFloat64()}), nil
	case KindInventory:
		rep, err := s.Inventory(ctx, r)
		if err != nil {
			return nil, err
		}
		rows := [][]any{{"Code", "Material", "Unit", "Reason", "Movements", "Net change"}}
		for _, l := range rep.Lines {
			rows = append(rows, []any{l.Code, l.Name, l.Unit, l.Reason, l.Movements, l.Total.InexactFloat64()})
		}
		return rows, nil
	}
	return nil, apperr.Validation("unknown report %q", kind)
}
