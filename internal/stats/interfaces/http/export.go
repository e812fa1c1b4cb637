package http

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	stats "safesite-cloud/internal/stats/application"
)

// BuildDashboardXLSX renders the rollup summary as a workbook, one sheet
// per resolution.
func BuildDashboardXLSX(dashboard *Dashboard) ([]byte, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", "hourly")
	f.NewSheet("daily")
	f.NewSheet("monthly")

	writeSheet := func(sheet string, groups []stats.Group) {
		_ = f.SetCellValue(sheet, "A1", "Bucket")
		_ = f.SetCellValue(sheet, "B1", "Type")
		_ = f.SetCellValue(sheet, "C1", "Count")
		row := 2
		for _, group := range groups {
			for _, entry := range group.Stats {
				_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), group.Key)
				_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.Field)
				_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), entry.Count)
				row++
			}
		}
	}
	writeSheet("hourly", dashboard.HourlyStats)
	writeSheet("daily", dashboard.DailyStats)
	writeSheet("monthly", dashboard.MonthlyStats)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDashboardPDF renders the rollup summary as a minimal PDF.
func BuildDashboardPDF(dashboard *Dashboard) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Safety Event Summary")
	pdf.Ln(10)

	writeSection := func(title string, groups []stats.Group) {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, title)
		pdf.Ln(7)
		pdf.CellFormat(60, 6, "Bucket", "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, "Type", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Count", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, group := range groups {
			for _, entry := range group.Stats {
				pdf.CellFormat(60, 6, group.Key, "1", 0, "C", false, 0, "")
				pdf.CellFormat(60, 6, entry.Field, "1", 0, "C", false, 0, "")
				pdf.CellFormat(40, 6, fmt.Sprintf("%d", entry.Count), "1", 0, "R", false, 0, "")
				pdf.Ln(-1)
			}
		}
		pdf.Ln(4)
	}
	writeSection("Hourly", dashboard.HourlyStats)
	writeSection("Daily", dashboard.DailyStats)
	writeSection("Monthly", dashboard.MonthlyStats)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
