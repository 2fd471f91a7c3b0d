package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
)

// TTLStore persists a decremented retry budget. *Client satisfies it.
type TTLStore interface {
	UpdateTTL(ctx context.Context, id uuid.UUID, currentTTL int16) error
}

// RetryHandler absorbs failures of the wrapped handler by spending one unit
// of the record's retry budget. The ttl update is streamed back as a row
// change, so the retry is eager: it follows as soon as the update commits,
// with no delay.
//
// Records whose budget is exhausted are skipped and reported as handled so
// they never block acknowledgment of their transaction.
type RetryHandler struct {
	store   TTLStore
	inner   cdc.Handler[*EventRecord]
	metrics MetricsCollector
}

func NewRetryHandler(store TTLStore, inner cdc.Handler[*EventRecord], metrics MetricsCollector) *RetryHandler {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &RetryHandler{
		store:   store,
		inner:   inner,
		metrics: metrics,
	}
}

func (h *RetryHandler) Handle(ctx context.Context, record *EventRecord) error {
	if record.IsDead() {
		log.Warn().
			Str("event_id", record.ID.String()).
			Str("event_type", record.EventType).
			Msg("ttl expired, dropping event")
		h.metrics.RecordDead(record.EventType)
		return nil
	}

	err := h.inner.Handle(ctx, record)
	if err == nil {
		return nil
	}

	log.Warn().
		Err(err).
		Str("event_id", record.ID.String()).
		Int16("ttl", record.TTL).
		Msg("event handling failed, retrying")

	// if the decrement is lost the transaction must stay unacknowledged
	if err := h.store.UpdateTTL(ctx, record.ID, record.TTL); err != nil {
		return fmt.Errorf("retry event %s: %w", record.ID, err)
	}
	h.metrics.RecordRetry(record.EventType, record.TTL-1)
	return nil
}
