package ingestion

import (
	"errors"
	"fmt"
)

// ErrMACNotFound means no header cell yielded a device identifier. The
// whole ingestion aborts; log rows are never attributed to an unknown
// device.
var ErrMACNotFound = errors.New("ingestion: no mac address found in sheet")

// MalformedFileError means the uploaded file could not be parsed. The
// ingestion is all-or-nothing, so this aborts the batch.
type MalformedFileError struct {
	Row    int
	Reason string
}

func (e *MalformedFileError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("ingestion: malformed file at row %d: %s", e.Row, e.Reason)
	}
	return "ingestion: malformed file: " + e.Reason
}

// IsMalformed reports whether err is a file-parsing failure.
func IsMalformed(err error) bool {
	var malformed *MalformedFileError
	return errors.As(err, &malformed)
}
