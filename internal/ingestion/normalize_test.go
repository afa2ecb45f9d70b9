package ingestion

import (
	"testing"
	"time"
)

func muscat(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	return loc
}

func TestNormalizeTimestampFreeText(t *testing.T) {
	loc := muscat(t)
	ts, err := NormalizeTimestamp("2025-11-06 00:10:00", 3, loc)
	if err != nil {
		t.Fatalf("normalize timestamp: %v", err)
	}
	expected := time.Date(2025, 11, 6, 0, 10, 0, 0, loc)
	if !ts.Equal(expected) {
		t.Fatalf("expected %v, got %v", expected, ts)
	}
}

func TestNormalizeTimestampSerialRoundTrip(t *testing.T) {
	loc := muscat(t)
	// 2025-11-06 06:00 local time as a spreadsheet serial date.
	ts, err := NormalizeTimestamp("45967.25", 3, loc)
	if err != nil {
		t.Fatalf("normalize timestamp: %v", err)
	}
	if got := ts.In(loc).Format("2006-01-02 15:04:05"); got != "2025-11-06 06:00:00" {
		t.Fatalf("expected 2025-11-06 06:00:00 in reference timezone, got %s", got)
	}
}

func TestNormalizeTimestampRejectsGarbage(t *testing.T) {
	if _, err := NormalizeTimestamp("yesterday-ish", 4, muscat(t)); !IsMalformed(err) {
		t.Fatalf("expected malformed file error, got %v", err)
	}
}

func TestNormalizeValue(t *testing.T) {
	value, err := NormalizeValue("7.98", 3)
	if err != nil {
		t.Fatalf("normalize value: %v", err)
	}
	if value != 7.98 {
		t.Fatalf("expected 7.98, got %v", value)
	}
	if _, err := NormalizeValue("n/a", 4); !IsMalformed(err) {
		t.Fatalf("expected malformed file error, got %v", err)
	}
}
