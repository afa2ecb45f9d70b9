package collect

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a collect request.
type Status string

const (
	StatusPending          Status = "pending"
	StatusWaitingForAssign Status = "waiting_for_assign"
	StatusOnTheWay         Status = "sample_collector_on_the_way"
	StatusPickedUp         Status = "picked_up"
	StatusReceived         Status = "received"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaitingForAssign, StatusOnTheWay, StatusPickedUp, StatusReceived:
		return true
	}
	return false
}

// Selectable reports whether a request in this status may be selected.
func (s Status) Selectable() bool {
	return s == StatusPending || s == StatusWaitingForAssign
}

// CollectRequest is one operator-to-referrer sample pickup task.
type CollectRequest struct {
	ID         string
	UserID     string
	ReferrerID string
	// ServerID is the correlation id of this request on the external
	// logistics server. Empty until the server has seen the request.
	ServerID  string
	DeviceID  string
	Status    Status
	StartedAt *time.Time
	EndedAt   *time.Time
	Barcodes  []string
	Extra     ExtraInformation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtraInformation is the open bag attached to a collect request. Known
// fields are typed; anything else the external server sends rides along
// in Extra untouched.
type ExtraInformation struct {
	StartingLocation *Location                  `json:"starting_location,omitempty"`
	EndingLocation   *Location                  `json:"ending_location,omitempty"`
	TemperatureLogs  []LogSnapshot              `json:"temperature_logs,omitempty"`
	Extra            map[string]json.RawMessage `json:"-"`
}

// LogSnapshot is one denormalized temperature reading frozen into
// extra_information when a collection ends.
type LogSnapshot struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// MarshalJSON flattens known fields and the opaque remainder into one object.
func (e ExtraInformation) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Extra)+3)
	for k, v := range e.Extra {
		out[k] = v
	}
	if e.StartingLocation != nil {
		raw, err := json.Marshal(e.StartingLocation)
		if err != nil {
			return nil, err
		}
		out["starting_location"] = raw
	}
	if e.EndingLocation != nil {
		raw, err := json.Marshal(e.EndingLocation)
		if err != nil {
			return nil, err
		}
		out["ending_location"] = raw
	}
	if e.TemperatureLogs != nil {
		raw, err := json.Marshal(e.TemperatureLogs)
		if err != nil {
			return nil, err
		}
		out["temperature_logs"] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known fields out of the object and keeps the rest opaque.
func (e *ExtraInformation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ExtraInformation{}
	for key, value := range raw {
		switch key {
		case "starting_location":
			var loc Location
			if err := json.Unmarshal(value, &loc); err != nil {
				return err
			}
			e.StartingLocation = &loc
		case "ending_location":
			var loc Location
			if err := json.Unmarshal(value, &loc); err != nil {
				return err
			}
			e.EndingLocation = &loc
		case "temperature_logs":
			if err := json.Unmarshal(value, &e.TemperatureLogs); err != nil {
				return err
			}
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]json.RawMessage)
			}
			e.Extra[key] = value
		}
	}
	return nil
}

// IsEmpty reports whether the bag carries no data at all.
func (e ExtraInformation) IsEmpty() bool {
	return e.StartingLocation == nil && e.EndingLocation == nil && e.TemperatureLogs == nil && len(e.Extra) == 0
}

// MergeBarcodes appends the new barcodes to existing, preserving order and
// dropping duplicates. Barcodes scanned at selection time stay first.
func MergeBarcodes(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, code := range existing {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		merged = append(merged, code)
	}
	for _, code := range incoming {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		merged = append(merged, code)
	}
	return merged
}
