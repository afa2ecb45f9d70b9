package serversync

import (
	"encoding/json"
	"errors"
	"time"

	collect "coldchain-collect/internal/collect/domain"
)

// PayloadIdentity carries the external correlation ids a payload needs.
// The external server only understands its own ids, so callers resolve
// them before building the payload.
type PayloadIdentity struct {
	RequestServerID  string
	OperatorServerID string
	ReferrerServerID string
	DeviceMAC        string
}

// BuildRequestPayload maps one collect request into the wire shape the
// external server expects.
func BuildRequestPayload(req *collect.CollectRequest, identity PayloadIdentity) (RequestPayload, error) {
	if req == nil {
		return RequestPayload{}, errors.New("serversync: nil collect request")
	}
	if identity.RequestServerID == "" {
		return RequestPayload{}, errors.New("serversync: request has no server id")
	}

	payload := RequestPayload{
		ID:                identity.RequestServerID,
		SampleCollectorID: identity.OperatorServerID,
		ReferrerID:        identity.ReferrerServerID,
		DeviceMAC:         identity.DeviceMAC,
		Status:            string(req.Status),
		StartedAt:         formatTime(req.StartedAt),
		EndedAt:           formatTime(req.EndedAt),
		Barcodes:          req.Barcodes,
	}
	if payload.Barcodes == nil {
		payload.Barcodes = []string{}
	}
	if !req.Extra.IsEmpty() {
		extra, err := json.Marshal(req.Extra)
		if err != nil {
			return RequestPayload{}, err
		}
		payload.ExtraInformation = extra
	}
	return payload, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
