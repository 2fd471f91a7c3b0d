package outbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/sqlutil"
)

// DB is what the Client needs from its connection: statements plus
// transactions. *pgxpool.Pool satisfies it.
type DB interface {
	DBTX
	sqlutil.TxBeginner
}

// Client writes events into the outbox table and reads dead ones back.
//
// Reads share the connection; writes, batch persists included, hold it
// exclusively for their whole transaction. A Client is safe for concurrent
// use and is meant to be shared by pointer across producers.
type Client struct {
	mu      sync.RWMutex
	db      DB
	queries *Queries
}

func NewClient(db DB) *Client {
	return &Client{
		db:      db,
		queries: NewQueries(db),
	}
}

// PersistOne stores a single event.
func (c *Client) PersistOne(ctx context.Context, msg Message) error {
	record, err := prepare(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.queries.InsertEvent(ctx, record); err != nil {
		return fmt.Errorf("%w: insert event %s: %w", ErrWrite, record.ID, err)
	}

	log.Debug().
		Str("event_id", record.ID.String()).
		Str("event_type", record.EventType).
		Msg("outbox event inserted")
	return nil
}

// Persist stores all events in one transaction. Either every row is
// inserted or none is.
func (c *Client) Persist(ctx context.Context, msgs ...Message) error {
	records, err := prepareAll(msgs)
	if err != nil || len(records) == 0 {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err = sqlutil.Run(ctx, c.db, c.queries.WithTx, func(q *Queries) error {
		return insertAll(ctx, q, records)
	})
	if err != nil {
		return fmt.Errorf("%w: persist %d events: %w", ErrWrite, len(records), err)
	}

	log.Debug().Int("count", len(records)).Msg("outbox events inserted")
	return nil
}

// PersistTx stores events inside a transaction owned by the caller, so they
// commit or roll back together with the caller's own writes.
func (c *Client) PersistTx(ctx context.Context, tx pgx.Tx, msgs ...Message) error {
	records, err := prepareAll(msgs)
	if err != nil || len(records) == 0 {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := insertAll(ctx, c.queries.WithTx(tx), records); err != nil {
		return fmt.Errorf("%w: persist %d events: %w", ErrWrite, len(records), err)
	}
	return nil
}

// DeadMessages returns the ids of events whose retry budget is exhausted,
// oldest first.
func (c *Client) DeadMessages(ctx context.Context) ([]uuid.UUID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids, err := c.queries.ListDeadEventIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list dead events: %w", ErrRead, err)
	}
	return ids, nil
}

func (c *Client) CountDeadMessages(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, err := c.queries.CountDeadEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count dead events: %w", ErrRead, err)
	}
	return n, nil
}

// UpdateTTL records a failed delivery: the row's ttl becomes currentTTL-1.
// The update is itself a row change, so the event is streamed again.
func (c *Client) UpdateTTL(ctx context.Context, id uuid.UUID, currentTTL int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.queries.UpdateEventTTL(ctx, id, currentTTL-1)
	if err != nil {
		return fmt.Errorf("%w: update ttl of %s: %w", ErrWrite, id, err)
	}
	if n == 0 {
		// rows are never deleted here; someone else removed it
		log.Warn().Str("event_id", id.String()).Msg("ttl update matched no outbox row")
	}
	return nil
}

func insertAll(ctx context.Context, q *Queries, records []EventRecord) error {
	for _, r := range records {
		if err := q.InsertEvent(ctx, r); err != nil {
			return fmt.Errorf("insert event %s: %w", r.ID, err)
		}
	}
	return nil
}

func prepareAll(msgs []Message) ([]EventRecord, error) {
	records := make([]EventRecord, 0, len(msgs))
	for _, m := range msgs {
		r, err := prepare(m)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// prepare fills in a missing id, budget and payload and rejects untyped
// events.
func prepare(msg Message) (EventRecord, error) {
	r := msg.ToRecord()
	if r.EventType == "" {
		return r, fmt.Errorf("%w: event type cannot be empty", ErrInvalidEvent)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.TTL == 0 {
		r.TTL = DefaultTTL
	}
	// data is NOT NULL; pgx sends a nil slice as NULL
	if r.Data == nil {
		r.Data = []byte{}
	}
	return r, nil
}
