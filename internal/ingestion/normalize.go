package ingestion

import (
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// DefaultTimezone is the reference timezone used to interpret ambiguous
// timestamps in uploaded files. Device exports carry local wall-clock
// time with no offset.
const DefaultTimezone = "Asia/Muscat"

var freeTextLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"02-01-2006 15:04:05",
	"01/02/2006 15:04:05",
	time.RFC3339,
}

// NormalizeTimestamp converts a raw timestamp cell to an absolute
// instant. Numeric cells are spreadsheet serial dates (days since the
// 1899 epoch, fractional day is time-of-day); anything else is free-text
// wall-clock time. Both paths interpret the wall clock in the reference
// timezone.
func NormalizeTimestamp(raw string, row int, loc *time.Location) (time.Time, error) {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		wall, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, &MalformedFileError{Row: row, Reason: "invalid serial date " + raw}
		}
		return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc), nil
	}
	for _, layout := range freeTextLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, &MalformedFileError{Row: row, Reason: "unparseable timestamp " + strconv.Quote(raw)}
}

// NormalizeValue parses a raw reading cell as a 64-bit float. A
// non-numeric value is a fatal ingestion error; malformed files are
// rejected rather than silently under-counted.
func NormalizeValue(raw string, row int) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &MalformedFileError{Row: row, Reason: "non-numeric value " + strconv.Quote(raw)}
	}
	return value, nil
}
