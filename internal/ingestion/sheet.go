package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
)

// Row is one emitted (timestamp, value) pair with the raw cell contents.
type Row struct {
	Timestamp string
	Value     string
	// Number is the 1-based sheet row the pair came from.
	Number int
}

// Sheet is a parsed temperature export. Rows are consumed lazily through
// Next; the sequence is finite and not restartable.
type Sheet struct {
	headerRow    []string
	headerRowNum int
	singleColumn bool

	source   rowSource
	buffered [][]string
	bufNums  []int
	rowNum   int
	done     bool
	closer   io.Closer
}

// rowSource abstracts the CSV reader and the excelize row cursor.
type rowSource interface {
	next() ([]string, error)
}

var headerLabelPattern = regexp.MustCompile(`(?i)MAC\s*Address`)

// ParseSheet sniffs the encoding and layout of an uploaded temperature
// export and prepares lazy row iteration.
//
// Vendor conventions, in order:
//   - "PK.." zip magic: an .xlsx workbook, read via excelize.
//   - UTF-16 byte-order mark (FF FE / FE FF): UTF-16LE text with tab
//     delimiter.
//   - anything else: UTF-8 with comma delimiter.
func ParseSheet(data []byte) (*Sheet, error) {
	if len(data) == 0 {
		return nil, &MalformedFileError{Reason: "empty file"}
	}

	sheet := &Sheet{}
	switch {
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, &MalformedFileError{Reason: "invalid workbook: " + err.Error()}
		}
		name := file.GetSheetName(0)
		if name == "" {
			_ = file.Close()
			return nil, &MalformedFileError{Reason: "workbook has no sheets"}
		}
		rows, err := file.Rows(name)
		if err != nil {
			_ = file.Close()
			return nil, &MalformedFileError{Reason: "read workbook rows: " + err.Error()}
		}
		sheet.source = &xlsxSource{rows: rows}
		sheet.closer = file
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		decoded, err := decoder.Bytes(data)
		if err != nil {
			return nil, &MalformedFileError{Reason: "decode utf-16: " + err.Error()}
		}
		sheet.source = newCSVSource(decoded, '\t')
	default:
		sheet.source = newCSVSource(data, ',')
	}

	if err := sheet.detectLayout(); err != nil {
		sheet.Close()
		return nil, err
	}
	return sheet, nil
}

// HeaderRow returns the trimmed cells of the first populated row; the
// device identifier lives here.
func (s *Sheet) HeaderRow() []string { return s.headerRow }

// SingleColumn reports whether data rows carry timestamp and value in one
// free-text cell.
func (s *Sheet) SingleColumn() bool { return s.singleColumn }

// Close releases the underlying workbook, if any.
func (s *Sheet) Close() {
	if s.closer != nil {
		_ = s.closer.Close()
		s.closer = nil
	}
}

// detectLayout reads the leading rows once: the identifier row (when cell
// (1,1) carries a MAC Address label the tabular header shifts to row 2),
// the column header, and the first data row for column-layout detection.
// Consumed data rows are buffered for Next.
func (s *Sheet) detectLayout() error {
	first, num, err := s.nextPopulated()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &MalformedFileError{Reason: "no populated rows"}
		}
		return err
	}
	s.headerRow = first
	s.headerRowNum = num

	// Skip the column-header row. When row 1 is the identifier row the
	// header is row 2 and data starts at row 3.
	if len(first) > 0 && headerLabelPattern.MatchString(first[0]) {
		if _, _, err := s.nextPopulated(); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}

	firstData, num, err := s.nextPopulated()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Header-only file: zero data rows, still a valid sheet.
			s.done = true
			return nil
		}
		return err
	}
	s.singleColumn = len(firstData) < 2 || firstData[1] == ""
	s.buffered = append(s.buffered, firstData)
	s.bufNums = append(s.bufNums, num)
	return nil
}

// Next returns the next (timestamp, value) pair. Rows with an empty
// timestamp or value are skipped. It returns io.EOF once the populated
// extent of the sheet is exhausted.
func (s *Sheet) Next() (Row, error) {
	for {
		cells, num, err := s.take()
		if err != nil {
			return Row{}, err
		}

		var timestamp, value string
		if s.singleColumn {
			timestamp, value = splitSingleColumn(cells[0])
		} else {
			timestamp = cells[0]
			if len(cells) > 1 {
				value = cells[1]
			}
		}
		if timestamp == "" || value == "" {
			continue
		}
		return Row{Timestamp: timestamp, Value: value, Number: num}, nil
	}
}

func (s *Sheet) take() ([]string, int, error) {
	if len(s.buffered) > 0 {
		cells := s.buffered[0]
		num := s.bufNums[0]
		s.buffered = s.buffered[1:]
		s.bufNums = s.bufNums[1:]
		return cells, num, nil
	}
	if s.done {
		return nil, 0, io.EOF
	}
	cells, num, err := s.nextPopulated()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
		}
		return nil, 0, err
	}
	return cells, num, nil
}

// nextPopulated reads the next row that has any non-empty cell, trimming
// every cell on the way. Entirely empty rows, including trailing ones,
// are ignored.
func (s *Sheet) nextPopulated() ([]string, int, error) {
	for {
		cells, err := s.source.next()
		if err != nil {
			return nil, 0, err
		}
		s.rowNum++
		populated := false
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
			if cells[i] != "" {
				populated = true
			}
		}
		if populated {
			return cells, s.rowNum, nil
		}
	}
}

var singleColumnSplit = regexp.MustCompile(`[\t\s]{2,}`)

// splitSingleColumn splits a free-text cell into timestamp and value on
// the first tab, falling back to a run of two or more whitespace
// characters. The heuristic is inherited from the device vendors' export
// format and is ambiguous for values with embedded double spaces.
func splitSingleColumn(cell string) (string, string) {
	if cell == "" {
		return "", ""
	}
	if i := strings.IndexByte(cell, '\t'); i >= 0 {
		return strings.TrimSpace(cell[:i]), strings.TrimSpace(cell[i+1:])
	}
	parts := singleColumnSplit.Split(cell, 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

type csvSource struct {
	reader *csv.Reader
}

func newCSVSource(data []byte, delimiter rune) *csvSource {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return &csvSource{reader: reader}
}

func (c *csvSource) next() ([]string, error) {
	record, err := c.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &MalformedFileError{Reason: "read csv: " + err.Error()}
	}
	return record, nil
}

type xlsxSource struct {
	rows *excelize.Rows
}

func (x *xlsxSource) next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, &MalformedFileError{Reason: "read workbook rows: " + err.Error()}
		}
		return nil, io.EOF
	}
	cells, err := x.rows.Columns()
	if err != nil {
		return nil, &MalformedFileError{Reason: "read workbook cells: " + err.Error()}
	}
	return cells, nil
}
