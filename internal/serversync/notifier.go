package serversync

import (
	"context"
	"encoding/json"
)

// Actions reported to the external logistics server.
const (
	ActionSelected = "selected"
	ActionStarted  = "started"
	ActionEnded    = "ended"
)

// RequestPayload is one collect request as the external server knows it:
// all ids are the server's own correlation ids, never local ones.
type RequestPayload struct {
	ID                string          `json:"id"`
	SampleCollectorID string          `json:"sample_collector_id"`
	ReferrerID        string          `json:"referrer_id"`
	DeviceMAC         string          `json:"device_mac,omitempty"`
	Status            string          `json:"status,omitempty"`
	StartedAt         string          `json:"started_at,omitempty"`
	EndedAt           string          `json:"ended_at,omitempty"`
	Barcodes          []string        `json:"barcodes"`
	ExtraInformation  json.RawMessage `json:"extra_information,omitempty"`
}

// Update is one state-transition notification.
type Update struct {
	Action          string           `json:"action"`
	CollectRequests []RequestPayload `json:"collect_requests"`
}

// Notifier delivers an update to the external system. Implementations
// are alternate strategies behind this one interface: the signed webhook
// and the authenticated API call.
type Notifier interface {
	Notify(ctx context.Context, update Update) error
}

// MultiNotifier fans an update out to every channel. Delivery failures
// are collected; partial success still returns the first error so the
// retry queue redelivers (channels must tolerate duplicates).
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, update Update) error {
	var first error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, update); err != nil && first == nil {
			first = err
		}
	}
	return first
}
