package serversync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	collect "coldchain-collect/internal/collect/domain"
)

func TestBuildRequestPayload(t *testing.T) {
	started := time.Date(2025, 11, 6, 6, 0, 0, 0, time.UTC)
	req := &collect.CollectRequest{
		ID:        "local-1",
		UserID:    "user-1",
		Status:    collect.StatusOnTheWay,
		StartedAt: &started,
		Barcodes:  []string{"BC-1", "BC-2"},
	}

	payload, err := BuildRequestPayload(req, PayloadIdentity{
		RequestServerID:  "srv-9",
		OperatorServerID: "srv-u-3",
		ReferrerServerID: "srv-r-7",
		DeviceMAC:        "AA:BB:CC:DD:EE:FF",
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if payload.ID != "srv-9" {
		t.Fatalf("payload id must be the server id, got %q", payload.ID)
	}
	if payload.SampleCollectorID != "srv-u-3" || payload.ReferrerID != "srv-r-7" {
		t.Fatalf("unexpected party ids: %q %q", payload.SampleCollectorID, payload.ReferrerID)
	}
	if payload.StartedAt != "2025-11-06T06:00:00Z" {
		t.Fatalf("unexpected started_at %q", payload.StartedAt)
	}
	if payload.EndedAt != "" {
		t.Fatalf("ended_at must be empty, got %q", payload.EndedAt)
	}
	if len(payload.Barcodes) != 2 {
		t.Fatalf("expected 2 barcodes, got %d", len(payload.Barcodes))
	}
}

func TestBuildRequestPayload_RequiresServerID(t *testing.T) {
	req := &collect.CollectRequest{ID: "local-1"}
	if _, err := BuildRequestPayload(req, PayloadIdentity{}); err == nil {
		t.Fatal("expected error for missing server id")
	}
}

func TestBuildRequestPayload_EmptyBarcodesSerializeAsArray(t *testing.T) {
	req := &collect.CollectRequest{ID: "local-1", Status: collect.StatusPending}
	payload, err := BuildRequestPayload(req, PayloadIdentity{RequestServerID: "srv-1"})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["barcodes"].([]any); !ok {
		t.Fatalf("barcodes must serialize as an array, got %v", decoded["barcodes"])
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(ctx context.Context, update Update) error {
	s.calls++
	return s.err
}

func TestMultiNotifier_FansOutAndKeepsFirstError(t *testing.T) {
	failing := &stubNotifier{err: errors.New("boom")}
	ok := &stubNotifier{}
	multi := MultiNotifier{failing, nil, ok}

	err := multi.Notify(context.Background(), testUpdate())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected first error, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("every notifier must run: %d %d", failing.calls, ok.calls)
	}
}
