package devices

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Device is a temperature-logging hardware unit identified by MAC address.
type Device struct {
	ID        string
	MAC       string
	CreatedAt time.Time
}

// TemperatureLog is one timestamped reading from a device. Immutable once
// written; ordered by timestamp ascending.
type TemperatureLog struct {
	ID        string
	DeviceID  string
	Value     float64
	Timestamp time.Time
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// ErrInvalidMAC means the identifier is not a 6-byte hex sequence.
var ErrInvalidMAC = errors.New("devices: invalid mac address")

// NormalizeMAC converts a MAC address to canonical upper-case
// colon-separated form. Accepts colon or hyphen separators.
func NormalizeMAC(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !macPattern.MatchString(trimmed) {
		return "", ErrInvalidMAC
	}
	return strings.ToUpper(strings.ReplaceAll(trimmed, "-", ":")), nil
}
