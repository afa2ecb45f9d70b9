package ingestion

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"unicode/utf16"

	"github.com/xuri/excelize/v2"
)

func encodeUTF16LE(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFE})
	for _, unit := range utf16.Encode([]rune(text)) {
		buf.WriteByte(byte(unit))
		buf.WriteByte(byte(unit >> 8))
	}
	return buf.Bytes()
}

func drain(t *testing.T, sheet *Sheet) []Row {
	t.Helper()
	var rows []Row
	for {
		row, err := sheet.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatalf("next row: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestParseSheetUTF8TwoColumn(t *testing.T) {
	data := []byte("MAC address(AA:BB:CC:DD:EE:01)\n" +
		"Timestamp,Temperature\n" +
		"2025-11-06 00:00:00,7.98\n" +
		"2025-11-06 00:10:00,8.02\n")

	sheet, err := ParseSheet(data)
	if err != nil {
		t.Fatalf("parse sheet: %v", err)
	}
	defer sheet.Close()

	mac, err := ExtractMAC(sheet.HeaderRow())
	if err != nil {
		t.Fatalf("extract mac: %v", err)
	}
	if mac != "AA:BB:CC:DD:EE:01" {
		t.Fatalf("expected AA:BB:CC:DD:EE:01, got %q", mac)
	}
	if sheet.SingleColumn() {
		t.Fatal("expected two-column layout")
	}

	rows := drain(t, sheet)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Timestamp != "2025-11-06 00:00:00" || rows[0].Value != "7.98" {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Value != "8.02" {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestParseSheetEncodingsYieldIdenticalRows(t *testing.T) {
	utf8Data := []byte("Timestamp,Temperature\n2025-11-06 00:00:00,7.98\n2025-11-06 00:10:00,8.02\n")
	utf16Data := encodeUTF16LE(t, "Timestamp\tTemperature\n2025-11-06 00:00:00\t7.98\n2025-11-06 00:10:00\t8.02\n")

	utf8Sheet, err := ParseSheet(utf8Data)
	if err != nil {
		t.Fatalf("parse utf-8 sheet: %v", err)
	}
	defer utf8Sheet.Close()
	utf16Sheet, err := ParseSheet(utf16Data)
	if err != nil {
		t.Fatalf("parse utf-16 sheet: %v", err)
	}
	defer utf16Sheet.Close()

	utf8Rows := drain(t, utf8Sheet)
	utf16Rows := drain(t, utf16Sheet)
	if len(utf8Rows) != len(utf16Rows) {
		t.Fatalf("row count mismatch: %d vs %d", len(utf8Rows), len(utf16Rows))
	}
	for i := range utf8Rows {
		if utf8Rows[i].Timestamp != utf16Rows[i].Timestamp || utf8Rows[i].Value != utf16Rows[i].Value {
			t.Fatalf("row %d mismatch: %+v vs %+v", i, utf8Rows[i], utf16Rows[i])
		}
	}
}

func TestParseSheetSingleColumnLayout(t *testing.T) {
	data := []byte("MAC Address: AA:BB:CC:DD:EE:02\n" +
		"Logged Data\n" +
		"\"2025-11-06 00:00:00\t7.98\"\n" +
		"\"2025-11-06 00:10:00   8.12\"\n")

	sheet, err := ParseSheet(data)
	if err != nil {
		t.Fatalf("parse sheet: %v", err)
	}
	defer sheet.Close()

	if !sheet.SingleColumn() {
		t.Fatal("expected single-column layout")
	}
	rows := drain(t, sheet)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Timestamp != "2025-11-06 00:00:00" || rows[0].Value != "7.98" {
		t.Fatalf("unexpected tab-split row: %+v", rows[0])
	}
	if rows[1].Timestamp != "2025-11-06 00:10:00" || rows[1].Value != "8.12" {
		t.Fatalf("unexpected space-split row: %+v", rows[1])
	}
}

func TestParseSheetSkipsBlankAndTrailingRows(t *testing.T) {
	data := []byte("Timestamp,Temperature\n" +
		"2025-11-06 00:00:00,7.98\n" +
		",\n" +
		"2025-11-06 00:20:00,\n" +
		"2025-11-06 00:30:00,8.40\n" +
		"\n")

	sheet, err := ParseSheet(data)
	if err != nil {
		t.Fatalf("parse sheet: %v", err)
	}
	defer sheet.Close()

	rows := drain(t, sheet)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after skipping blanks, got %d", len(rows))
	}
	if rows[1].Value != "8.40" {
		t.Fatalf("unexpected last row: %+v", rows[1])
	}
}

func TestParseSheetTrimsCellWhitespace(t *testing.T) {
	data := []byte("Timestamp,Temperature\n  2025-11-06 00:00:00 , 7.98 \n")
	sheet, err := ParseSheet(data)
	if err != nil {
		t.Fatalf("parse sheet: %v", err)
	}
	defer sheet.Close()

	rows := drain(t, sheet)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Timestamp != "2025-11-06 00:00:00" || rows[0].Value != "7.98" {
		t.Fatalf("expected trimmed cells, got %+v", rows[0])
	}
}

func TestParseSheetXLSX(t *testing.T) {
	workbook := excelize.NewFile()
	sheetName := workbook.GetSheetName(0)
	_ = workbook.SetCellValue(sheetName, "A1", "MAC address(AA:BB:CC:DD:EE:03)")
	_ = workbook.SetCellValue(sheetName, "A2", "Timestamp")
	_ = workbook.SetCellValue(sheetName, "B2", "Temperature")
	_ = workbook.SetCellValue(sheetName, "A3", "2025-11-06 00:00:00")
	_ = workbook.SetCellValue(sheetName, "B3", "7.98")
	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	sheet, err := ParseSheet(buf.Bytes())
	if err != nil {
		t.Fatalf("parse sheet: %v", err)
	}
	defer sheet.Close()

	mac, err := ExtractMAC(sheet.HeaderRow())
	if err != nil {
		t.Fatalf("extract mac: %v", err)
	}
	if mac != "AA:BB:CC:DD:EE:03" {
		t.Fatalf("expected AA:BB:CC:DD:EE:03, got %q", mac)
	}
	rows := drain(t, sheet)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Value != "7.98" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestParseSheetEmptyFile(t *testing.T) {
	if _, err := ParseSheet(nil); !IsMalformed(err) {
		t.Fatalf("expected malformed file error, got %v", err)
	}
}

func TestParseSheetHeaderOnly(t *testing.T) {
	sheet, err := ParseSheet([]byte("Timestamp,Temperature\n"))
	if err != nil {
		t.Fatalf("parse sheet: %v", err)
	}
	defer sheet.Close()
	if rows := drain(t, sheet); len(rows) != 0 {
		t.Fatalf("expected no data rows, got %d", len(rows))
	}
}
