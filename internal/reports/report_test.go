package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	accounts "coldchain-collect/internal/accounts/domain"
	collect "coldchain-collect/internal/collect/domain"
	devices "coldchain-collect/internal/devices/domain"
)

func sampleReport() CollectionReport {
	started := time.Date(2025, 11, 6, 6, 0, 0, 0, time.UTC)
	ended := started.Add(45 * time.Minute)
	return CollectionReport{
		Request: &collect.CollectRequest{
			ID:        "req-1",
			Status:    collect.StatusReceived,
			StartedAt: &started,
			EndedAt:   &ended,
			Barcodes:  []string{"BC-1", "BC-2"},
		},
		Operator: &accounts.User{Name: "Operator One"},
		Referrer: &accounts.Referrer{Name: "Clinic A", Address: "12 Harbor Rd"},
		Logs: []devices.TemperatureLog{
			{Value: 4.2, Timestamp: started.Add(5 * time.Minute)},
			{Value: 4.5, Timestamp: started.Add(15 * time.Minute)},
		},
	}
}

func TestBuildCollectionPDF(t *testing.T) {
	data, err := BuildCollectionPDF(sampleReport())
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected pdf magic, got %q", data[:8])
	}
}

func TestBuildCollectionPDF_NilRequest(t *testing.T) {
	if _, err := BuildCollectionPDF(CollectionReport{}); err == nil {
		t.Fatal("expected error for nil request")
	}
}

func TestBuildCollectionXLSX(t *testing.T) {
	data, err := BuildCollectionXLSX(sampleReport())
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen xlsx: %v", err)
	}
	defer f.Close()

	id, err := f.GetCellValue("summary", "B3")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if id != "req-1" {
		t.Fatalf("expected req-1, got %q", id)
	}
	rows, err := f.GetRows("readings")
	if err != nil {
		t.Fatalf("read readings: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 readings, got %d rows", len(rows))
	}
}
