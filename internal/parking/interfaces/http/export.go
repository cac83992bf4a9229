package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	parking "parking-district/internal/parking/domain"
)

// BuildDistrictPDF renders a district report.
func BuildDistrictPDF(snap parking.DistrictSnapshot, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Parking District Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Last event minute: %d", snap.LastEventMinute))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Occupancy: %d / %d", snap.Occupancy, snap.Capacity))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", statusLabel(snap.Closed)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Closed minutes: %d", snap.ClosedMinutes))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Revenue: %.2f", snap.Revenue))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(12, 6, "#", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Lot", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Occupancy", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Rate", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Closed min", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Revenue", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, lot := range snap.Lots {
		pdf.CellFormat(12, 6, fmt.Sprintf("%d", lot.Index), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, lot.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 6, fmt.Sprintf("%d / %d", lot.Occupancy, lot.Capacity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(22, 6, rateLabel(lot), "1", 0, "R", false, 0, "")
		pdf.CellFormat(22, 6, statusLabel(lot.Closed), "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, fmt.Sprintf("%d", lot.ClosedMinutes), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, fmt.Sprintf("%.2f", lot.Revenue), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDistrictXLSX renders a district report workbook with summary, lots and journal sheets.
func BuildDistrictXLSX(snap parking.DistrictSnapshot, journal []parking.JournalRecord, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	lotsSheet := "lots"
	journalSheet := "journal"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(lotsSheet)
	f.NewSheet(journalSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Parking District Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Lots")
	_ = f.SetCellValue(summarySheet, "B4", len(snap.Lots))
	_ = f.SetCellValue(summarySheet, "A5", "Occupancy")
	_ = f.SetCellValue(summarySheet, "B5", snap.Occupancy)
	_ = f.SetCellValue(summarySheet, "A6", "Capacity")
	_ = f.SetCellValue(summarySheet, "B6", snap.Capacity)
	_ = f.SetCellValue(summarySheet, "A7", "Status")
	_ = f.SetCellValue(summarySheet, "B7", statusLabel(snap.Closed))
	_ = f.SetCellValue(summarySheet, "A8", "Closed Minutes")
	_ = f.SetCellValue(summarySheet, "B8", snap.ClosedMinutes)
	_ = f.SetCellValue(summarySheet, "A9", "Revenue")
	_ = f.SetCellValue(summarySheet, "B9", snap.Revenue)
	_ = f.SetCellValue(summarySheet, "A10", "Last Event Minute")
	_ = f.SetCellValue(summarySheet, "B10", snap.LastEventMinute)

	for i, header := range []string{"Index", "Name", "Capacity", "Occupancy", "Occupancy %", "Fee Rate", "Free", "Status", "Closed Minutes", "Revenue"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(lotsSheet, cell, header)
	}
	for i, lot := range snap.Lots {
		row := i + 2
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("A%d", row), lot.Index)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("B%d", row), lot.Name)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("C%d", row), lot.Capacity)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("D%d", row), lot.Occupancy)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("E%d", row), lot.OccupancyPercent)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("F%d", row), lot.Rate)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("G%d", row), lot.Free)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("H%d", row), statusLabel(lot.Closed))
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("I%d", row), lot.ClosedMinutes)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("J%d", row), lot.Revenue)
	}

	for i, header := range []string{"Seq", "Kind", "Lot", "Minute", "Vehicle", "Fee", "Actor", "Created"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(journalSheet, cell, header)
	}
	for i, record := range journal {
		row := i + 2
		_ = f.SetCellValue(journalSheet, fmt.Sprintf("A%d", row), record.Seq)
		_ = f.SetCellValue(journalSheet, fmt.Sprintf("B%d", row), record.Kind)
		_ = f.SetCellValue(journalSheet, fmt.Sprintf("C%d", row), record.LotName)
		_ = f.SetCellValue(journalSheet, fmt.Sprintf("D%d", row), record.Minute)
		if record.VehicleID.Valid {
			_ = f.SetCellValue(journalSheet, fmt.Sprintf("E%d", row), record.VehicleID.Int64)
		}
		if record.Fee.Valid {
			_ = f.SetCellValue(journalSheet, fmt.Sprintf("F%d", row), record.Fee.Float64)
		}
		_ = f.SetCellValue(journalSheet, fmt.Sprintf("G%d", row), record.Actor)
		_ = f.SetCellValue(journalSheet, fmt.Sprintf("H%d", row), record.CreatedAt.UTC().Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statusLabel(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}

func rateLabel(lot parking.LotSnapshot) string {
	if lot.Free {
		return "free"
	}
	return fmt.Sprintf("%.2f/h", lot.Rate)
}
