package eventing

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	serversync "coldchain-collect/internal/serversync"
)

// OutboxStore provides access to stored outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	MarkDead(ctx context.Context, id string, reason string) error
}

// Worker drains pending outbox records to the sync notifiers with
// at-least-once semantics. Records that keep failing are parked as dead
// after maxAttempts.
type Worker struct {
	store       OutboxStore
	notifier    serversync.Notifier
	batch       int
	poll        time.Duration
	maxAttempts int
	logger      *log.Logger
}

// NewWorker constructs an outbox worker.
func NewWorker(store OutboxStore, notifier serversync.Notifier, batch int, poll time.Duration, maxAttempts int, logger *log.Logger) (*Worker, error) {
	if store == nil {
		return nil, errors.New("eventing: nil outbox store")
	}
	if notifier == nil {
		return nil, errors.New("eventing: nil notifier")
	}
	if batch <= 0 {
		batch = 50
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		store:       store,
		notifier:    notifier,
		batch:       batch,
		poll:        poll,
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.logger.Printf("sync outbox: drain error: %v", err)
			}
		}
	}
}

// Drain delivers one batch of pending records.
func (w *Worker) Drain(ctx context.Context) error {
	records, err := w.store.ListPending(ctx, w.batch)
	if err != nil {
		return err
	}
	for _, record := range records {
		var update serversync.Update
		if err := json.Unmarshal(record.Envelope.Payload, &update); err != nil {
			w.logger.Printf("sync outbox: undecodable record %s: %v", record.ID, err)
			_ = w.store.MarkDead(ctx, record.ID, "undecodable payload: "+err.Error())
			continue
		}

		if err := w.notifier.Notify(ctx, update); err != nil {
			w.logger.Printf("sync outbox: delivery failed id=%s action=%s attempt=%d: %v", record.ID, record.Envelope.Action, record.Attempts+1, err)
			if record.Attempts+1 >= w.maxAttempts {
				_ = w.store.MarkDead(ctx, record.ID, err.Error())
			} else {
				_ = w.store.MarkFailed(ctx, record.ID)
			}
			continue
		}
		if err := w.store.MarkSent(ctx, record.ID); err != nil {
			w.logger.Printf("sync outbox: mark sent %s: %v", record.ID, err)
		}
	}
	return nil
}
