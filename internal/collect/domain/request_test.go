package collect

import (
	"errors"
	"testing"
	"time"
)

func TestStatusSelectable(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusWaitingForAssign, true},
		{StatusOnTheWay, false},
		{StatusPickedUp, false},
		{StatusReceived, false},
	}
	for _, tc := range cases {
		if got := tc.status.Selectable(); got != tc.want {
			t.Errorf("Selectable(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestCanStartRequiresEnRoute(t *testing.T) {
	req := &CollectRequest{ID: "req-1", UserID: "user-1", Status: StatusOnTheWay}
	if err := CanStart(req, "user-1"); err != nil {
		t.Fatalf("expected start allowed, got %v", err)
	}

	picked := &CollectRequest{ID: "req-2", UserID: "user-1", Status: StatusPickedUp}
	if err := CanStart(picked, "user-1"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for picked-up request, got %v", err)
	}

	if err := CanStart(req, "user-2"); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestCanEndRequiresStart(t *testing.T) {
	started := time.Now().UTC()
	req := &CollectRequest{ID: "req-1", UserID: "user-1", Status: StatusPickedUp, StartedAt: &started}
	if err := CanEnd(req); err != nil {
		t.Fatalf("expected end allowed, got %v", err)
	}

	unstarted := &CollectRequest{ID: "req-2", UserID: "user-1", Status: StatusOnTheWay}
	if err := CanEnd(unstarted); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	ended := time.Now().UTC()
	done := &CollectRequest{ID: "req-3", UserID: "user-1", Status: StatusReceived, StartedAt: &started, EndedAt: &ended}
	if err := CanEnd(done); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("expected ErrAlreadyEnded, got %v", err)
	}
}

func TestMergeBarcodesAppendUnion(t *testing.T) {
	merged := MergeBarcodes([]string{"BC-1", "BC-2"}, []string{"BC-2", "BC-3"})
	want := []string{"BC-1", "BC-2", "BC-3"}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("merged = %v, want %v", merged, want)
		}
	}
}
