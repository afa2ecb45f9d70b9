package collect

import "errors"

var (
	// ErrNotFound means the collect request does not exist.
	ErrNotFound = errors.New("collect: request not found")
	// ErrNotAssigned means the request belongs to a different operator.
	ErrNotAssigned = errors.New("collect: request not assigned to this operator")
	// ErrStateConflict means the transition is illegal from the current status.
	ErrStateConflict = errors.New("collect: illegal state transition")
	// ErrActiveCollection means the operator already has an en-route collection.
	ErrActiveCollection = errors.New("collect: operator already has an active collection")
	// ErrAlreadyStarted guards against double-start of the same request.
	ErrAlreadyStarted = errors.New("collect: request already started")
	// ErrAlreadyEnded guards against finalizing a finished request.
	ErrAlreadyEnded = errors.New("collect: request already ended")
	// ErrNotStarted means end was attempted before start.
	ErrNotStarted = errors.New("collect: request not started")
)

// CanSelect checks the select transition preconditions for one request.
// The per-operator single-active-collection invariant is checked by the
// application service against the repository.
func CanSelect(req *CollectRequest, operatorID string) error {
	if req == nil {
		return ErrNotFound
	}
	if req.UserID != operatorID {
		return ErrNotAssigned
	}
	if !req.Status.Selectable() {
		return ErrStateConflict
	}
	return nil
}

// CanStart checks the start transition preconditions for one request.
func CanStart(req *CollectRequest, operatorID string) error {
	if req == nil {
		return ErrNotFound
	}
	if req.UserID != operatorID {
		return ErrNotAssigned
	}
	if req.Status != StatusOnTheWay {
		return ErrStateConflict
	}
	if req.StartedAt != nil {
		return ErrAlreadyStarted
	}
	return nil
}

// CanEnd checks the end transition preconditions for one request.
func CanEnd(req *CollectRequest) error {
	if req == nil {
		return ErrNotFound
	}
	if req.EndedAt != nil {
		return ErrAlreadyEnded
	}
	if req.StartedAt == nil {
		return ErrNotStarted
	}
	return nil
}
