package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the statement surface shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const insertEvent = `-- name: InsertEvent :exec
INSERT INTO events (id, agg_id, event_type, data, ttl)
VALUES ($1, $2, $3, $4, $5)
`

func (q *Queries) InsertEvent(ctx context.Context, r EventRecord) error {
	_, err := q.db.Exec(ctx, insertEvent, r.ID, r.AggID, r.EventType, r.Data, r.TTL)
	return err
}

const listDeadEventIDs = `-- name: ListDeadEventIDs :many
SELECT id FROM events
WHERE ttl <= 0
ORDER BY created_at
`

func (q *Queries) ListDeadEventIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listDeadEventIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countDeadEvents = `-- name: CountDeadEvents :one
SELECT count(*) FROM events
WHERE ttl <= 0
`

func (q *Queries) CountDeadEvents(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countDeadEvents).Scan(&count)
	return count, err
}

const updateEventTTL = `-- name: UpdateEventTTL :execrows
UPDATE events SET ttl = $2
WHERE id = $1
`

func (q *Queries) UpdateEventTTL(ctx context.Context, id uuid.UUID, ttl int16) (int64, error) {
	tag, err := q.db.Exec(ctx, updateEventTTL, id, ttl)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
