package outbox

import (
	"github.com/google/uuid"
)

// TableName is the outbox table every record is written to and streamed from.
const TableName = "events"

// DefaultTTL is the retry budget of a freshly written record.
const DefaultTTL int16 = 3

// EventRecord is one row of the outbox table.
//
// TTL is the remaining retry budget. It only ever decreases; a record with
// TTL <= 0 is dead and kept for inspection through Client.DeadMessages.
type EventRecord struct {
	ID        uuid.UUID
	AggID     uuid.UUID
	EventType string
	Data      []byte
	TTL       int16
}

// NewEventRecord returns a record with a fresh id and the default budget.
func NewEventRecord(aggID uuid.UUID, eventType string, data []byte) EventRecord {
	return EventRecord{
		ID:        uuid.New(),
		AggID:     aggID,
		EventType: eventType,
		Data:      data,
		TTL:       DefaultTTL,
	}
}

// Message is a domain event that can be stored in the outbox.
type Message interface {
	ToRecord() EventRecord
}

// ToRecord lets raw records be persisted directly.
func (r EventRecord) ToRecord() EventRecord { return r }

// IsDead reports whether the retry budget is exhausted.
func (r *EventRecord) IsDead() bool { return r.TTL <= 0 }
