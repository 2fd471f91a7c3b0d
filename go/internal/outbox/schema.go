package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id         uuid PRIMARY KEY,
		agg_id     uuid NOT NULL,
		event_type text NOT NULL,
		data       bytea NOT NULL,
		ttl        smallint NOT NULL DEFAULT 3,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS events_dead_idx ON events (created_at) WHERE ttl <= 0`,
	// ttl updates must carry the full old row so unchanged TOASTed payloads
	// can be restored on the replica side
	`ALTER TABLE events REPLICA IDENTITY FULL`,
}

// EnsureSchema creates the outbox table and a publication streaming its
// inserts and updates. It is idempotent.
func EnsureSchema(ctx context.Context, db DBTX, publication string) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", ErrWrite, err)
		}
	}

	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = $1)`, publication).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: look up publication %s: %w", ErrRead, publication, err)
	}
	if exists {
		return nil
	}

	stmt := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s WITH (publish = %s)",
		pq.QuoteIdentifier(publication), pq.QuoteIdentifier(TableName), pq.QuoteLiteral("insert, update"))
	if _, err := db.Exec(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" {
			return nil
		}
		return fmt.Errorf("%w: create publication %s: %w", ErrWrite, publication, err)
	}

	log.Info().Str("publication", publication).Str("table", TableName).Msg("created publication")
	return nil
}
