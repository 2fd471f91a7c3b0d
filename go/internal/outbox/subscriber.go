package outbox

import (
	"github.com/mcdev12/pgoutbox/go/internal/cdc"
)

// Subscriber streams outbox rows from the replication slot.
type Subscriber = cdc.Subscriber[EventRecord, *EventRecord]

// NewSubscriber streams the outbox table into handler, typically a
// RetryHandler around a sink.
func NewSubscriber(conn cdc.ReplicationConn, handler cdc.Handler[*EventRecord], cfg cdc.SubscriberConfig, opts ...cdc.Option) *Subscriber {
	return cdc.NewSubscriber[EventRecord](conn, handler, cfg, opts...)
}
