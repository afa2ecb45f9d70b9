package reports

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	accounts "coldchain-collect/internal/accounts/domain"
	collect "coldchain-collect/internal/collect/domain"
	devices "coldchain-collect/internal/devices/domain"
)

// CollectionReport is the flattened input for one request's report.
type CollectionReport struct {
	Request  *collect.CollectRequest
	Operator *accounts.User
	Referrer *accounts.Referrer
	Logs     []devices.TemperatureLog
}

// BuildCollectionPDF renders a minimal PDF for a finished collection.
func BuildCollectionPDF(report CollectionReport) ([]byte, error) {
	if report.Request == nil {
		return nil, errors.New("reports: nil request")
	}
	req := report.Request

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Collection Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Request: %s", req.ID))
	pdf.Ln(5)
	if report.Operator != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Sample Collector: %s", report.Operator.Name))
		pdf.Ln(5)
	}
	if report.Referrer != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Referrer: %s", report.Referrer.Name))
		pdf.Ln(5)
		if report.Referrer.Address != "" {
			pdf.Cell(0, 6, fmt.Sprintf("Address: %s", report.Referrer.Address))
			pdf.Ln(5)
		}
	}
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", req.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Started: %s", formatTime(req.StartedAt)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Ended: %s", formatTime(req.EndedAt)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Barcodes: %d", len(req.Barcodes)))
	pdf.Ln(5)
	for _, barcode := range req.Barcodes {
		pdf.Cell(0, 6, "  "+barcode)
		pdf.Ln(5)
	}
	pdf.Ln(4)

	// Readings table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Temperature (C)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, log := range report.Logs {
		pdf.CellFormat(70, 6, log.Timestamp.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.2f", log.Value), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCollectionXLSX renders a minimal XLSX for a finished collection.
func BuildCollectionXLSX(report CollectionReport) ([]byte, error) {
	if report.Request == nil {
		return nil, errors.New("reports: nil request")
	}
	req := report.Request

	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Collection Report")
	_ = f.SetCellValue(summarySheet, "A3", "Request")
	_ = f.SetCellValue(summarySheet, "B3", req.ID)
	if report.Operator != nil {
		_ = f.SetCellValue(summarySheet, "A4", "Sample Collector")
		_ = f.SetCellValue(summarySheet, "B4", report.Operator.Name)
	}
	if report.Referrer != nil {
		_ = f.SetCellValue(summarySheet, "A5", "Referrer")
		_ = f.SetCellValue(summarySheet, "B5", report.Referrer.Name)
		_ = f.SetCellValue(summarySheet, "A6", "Address")
		_ = f.SetCellValue(summarySheet, "B6", report.Referrer.Address)
	}
	_ = f.SetCellValue(summarySheet, "A7", "Status")
	_ = f.SetCellValue(summarySheet, "B7", string(req.Status))
	_ = f.SetCellValue(summarySheet, "A8", "Started")
	_ = f.SetCellValue(summarySheet, "B8", formatTime(req.StartedAt))
	_ = f.SetCellValue(summarySheet, "A9", "Ended")
	_ = f.SetCellValue(summarySheet, "B9", formatTime(req.EndedAt))
	for i, barcode := range req.Barcodes {
		row := 11 + i
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Barcode")
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), barcode)
	}

	_ = f.SetCellValue(readingsSheet, "A1", "Timestamp")
	_ = f.SetCellValue(readingsSheet, "B1", "Temperature (C)")
	for i, log := range report.Logs {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), log.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), log.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
