// Package export renders reports as spreadsheet files.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"clinicstock/internal/domain/reports"
)

const monthlySheet = "Monthly Report"

var monthlyHeadings = []string{
	"Category", "Drug", "Strength", "Unit",
	"Initial", "Purchased", "Delivered", "Current", "Calculated",
	"Status", "Remaining %",
}

// XLSX renders reports as Excel workbooks.
type XLSX struct{}

var _ reports.Renderer = XLSX{}

// ContentType implements reports.Renderer.
func (XLSX) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension implements reports.Renderer.
func (XLSX) Extension() string { return ".xlsx" }

// RenderMonthlyReport writes one sheet with a row per drug and a totals row.
func (XLSX) RenderMonthlyReport(w io.Writer, r *reports.MonthlyReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", monthlySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	title := fmt.Sprintf("%s %d (%d/%02d)", r.MonthName, r.Period.Year, r.Period.Year, r.Period.Month)
	if err := f.SetCellValue(monthlySheet, "A1", title); err != nil {
		return err
	}

	headStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetSheetRow(monthlySheet, "A3", &monthlyHeadings); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(monthlyHeadings), 3)
	if err := f.SetCellStyle(monthlySheet, "A3", last, headStyle); err != nil {
		return err
	}

	row := 4
	for _, item := range r.Items {
		remaining := ""
		if item.RemainingPercentage != nil {
			remaining = item.RemainingPercentage.StringFixed(2)
		}
		values := []any{
			item.CategoryName, item.DrugName, item.Strength, item.Unit,
			item.InitialStock, item.PurchasedStock, item.DeliveredStock, item.CurrentStock,
			item.CalculatedStock, string(item.Status), remaining,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(monthlySheet, cell, &values); err != nil {
			return err
		}
		row++
	}

	totals := []any{
		"Total", fmt.Sprintf("%d drugs", r.Summary.TotalDrugs), "", "",
		r.Summary.TotalInitial, r.Summary.TotalPurchased, r.Summary.TotalDelivered, r.Summary.TotalCurrent,
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(monthlySheet, cell, &totals); err != nil {
		return err
	}
	last, _ = excelize.CoordinatesToCellName(len(totals), row)
	if err := f.SetCellStyle(monthlySheet, cell, last, headStyle); err != nil {
		return err
	}

	if err := f.SetColWidth(monthlySheet, "A", "B", 24); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
