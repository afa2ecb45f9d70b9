package eventing

import (
	"context"
	"encoding/json"
	"testing"

	serversync "coldchain-collect/internal/serversync"
)

type captureWriter struct {
	envelopes []Envelope
}

func (c *captureWriter) Insert(ctx context.Context, env Envelope) (string, error) {
	c.envelopes = append(c.envelopes, env)
	return "outbox-1", nil
}

func TestPublisher_WrapsUpdateInEnvelope(t *testing.T) {
	writer := &captureWriter{}
	publisher, err := NewPublisher(writer)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	update := serversync.Update{
		Action:          serversync.ActionSelected,
		CollectRequests: []serversync.RequestPayload{{ID: "srv-1", Barcodes: []string{}}},
	}
	if err := publisher.Publish(context.Background(), update); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(writer.envelopes))
	}

	env := writer.envelopes[0]
	if env.EventID == "" {
		t.Fatal("expected event id")
	}
	if env.Action != serversync.ActionSelected {
		t.Fatalf("unexpected action %q", env.Action)
	}
	var decoded serversync.Update
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("payload round trip: %v", err)
	}
	if len(decoded.CollectRequests) != 1 || decoded.CollectRequests[0].ID != "srv-1" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestPublisher_RejectsEmptyAction(t *testing.T) {
	publisher, err := NewPublisher(&captureWriter{})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := publisher.Publish(context.Background(), serversync.Update{}); err == nil {
		t.Fatal("expected error for empty action")
	}
}

func TestNewEventID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewEventID()
		if len(id) != 32 {
			t.Fatalf("unexpected id length %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
