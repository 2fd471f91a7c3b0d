package outbox

import "errors"

var (
	// ErrWrite wraps failures persisting or updating outbox rows.
	ErrWrite = errors.New("outbox: write")
	// ErrRead wraps failures querying outbox rows.
	ErrRead = errors.New("outbox: read")
	// ErrInvalidEvent is returned for records that cannot be stored.
	ErrInvalidEvent = errors.New("outbox: invalid event")
)
