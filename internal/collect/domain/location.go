package collect

import (
	"errors"
	"time"
)

// Location is a GPS fix captured when a collection starts or ends.
type Location struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy"`
	CapturedAt string   `json:"timestamp"`
}

// NewLocation validates coordinate ranges and stamps the capture time.
func NewLocation(latitude, longitude float64, accuracy *float64, at time.Time) (*Location, error) {
	if latitude < -90 || latitude > 90 {
		return nil, errors.New("collect: latitude must be between -90 and 90")
	}
	if longitude < -180 || longitude > 180 {
		return nil, errors.New("collect: longitude must be between -180 and 180")
	}
	return &Location{
		Latitude:   latitude,
		Longitude:  longitude,
		Accuracy:   accuracy,
		CapturedAt: at.UTC().Format(time.RFC3339),
	}, nil
}
