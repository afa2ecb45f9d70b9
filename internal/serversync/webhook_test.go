package serversync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testUpdate() Update {
	return Update{
		Action: ActionStarted,
		CollectRequests: []RequestPayload{
			{ID: "srv-1", SampleCollectorID: "srv-u-1", Barcodes: []string{"BC-1"}},
		},
	}
}

func TestWebhookNotifier_SignsBody(t *testing.T) {
	var (
		gotSignature string
		gotBody      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, "secret", nil)
	if err := notifier.Notify(context.Background(), testUpdate()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotSignature == "" {
		t.Fatal("expected signature header")
	}
	if !VerifySignature([]byte("secret"), gotBody, gotSignature) {
		t.Fatal("signature does not match body")
	}
}

func TestWebhookNotifier_SkipsWhenUnconfigured(t *testing.T) {
	notifier := NewWebhookNotifier("", "", nil)
	if err := notifier.Notify(context.Background(), testUpdate()); err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
}

func TestWebhookNotifier_RetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, "secret", nil, WithWebhookRetry(2, time.Millisecond))
	if err := notifier.Notify(context.Background(), testUpdate()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestWebhookNotifier_NoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, "secret", nil, WithWebhookRetry(2, time.Millisecond))
	if err := notifier.Notify(context.Background(), testUpdate()); err == nil {
		t.Fatal("expected error on 400")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
