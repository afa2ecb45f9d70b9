package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	serversync "coldchain-collect/internal/serversync"
)

// Envelope wraps a sync update with delivery metadata.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Action     string          `json:"action"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Record is one stored outbox entry.
type Record struct {
	ID       string
	Attempts int
	Envelope Envelope
}

// OutboxWriter inserts outbox records. The write happens on the caller's
// DBTX so the pending notification commits atomically with the state
// change it describes.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher packages sync updates into envelopes and writes them to the
// outbox.
type Publisher struct {
	outbox OutboxWriter
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter) (*Publisher, error) {
	if outbox == nil {
		return nil, errors.New("eventing: nil outbox writer")
	}
	return &Publisher{outbox: outbox}, nil
}

// Publish writes the update to the outbox. The worker delivers it later;
// a delivery failure never reverts the lifecycle change that produced it.
func (p *Publisher) Publish(ctx context.Context, update serversync.Update) error {
	if p == nil || p.outbox == nil {
		return errors.New("eventing: nil publisher")
	}
	if update.Action == "" {
		return errors.New("eventing: empty action")
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	env := Envelope{
		EventID:    NewEventID(),
		Action:     update.Action,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	_, err = p.outbox.Insert(ctx, env)
	return err
}
