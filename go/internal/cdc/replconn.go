package cdc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ReplicationConn is the duplex connection a Subscriber streams from.
// Implementations are used by a single goroutine.
type ReplicationConn interface {
	// ConfirmedFlushLSN returns the last position the slot has confirmed.
	ConfirmedFlushLSN(ctx context.Context, slot string) (pglogrepl.LSN, error)
	// StartReplication switches the connection into streaming mode.
	StartReplication(ctx context.Context, slot string, start pglogrepl.LSN, publication string) error
	// Receive returns the payload of the next CopyData message. It returns
	// ErrReceiveTimeout when ctx's deadline passes first and io.EOF when the
	// server ends the stream.
	Receive(ctx context.Context) ([]byte, error)
	// SendStandbyStatus reports the client's write, flush and apply
	// positions to the server.
	SendStandbyStatus(ctx context.Context, status pglogrepl.StandbyStatusUpdate) error
	Close(ctx context.Context) error
}

// PgReplicationConn speaks the streaming replication protocol over a pgconn
// connection opened with replication=database.
type PgReplicationConn struct {
	conn *pgconn.PgConn
}

// ConnectReplication dials Postgres in logical replication mode.
func ConnectReplication(ctx context.Context, dsn string) (*PgReplicationConn, error) {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse replication dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["replication"] = "database"
	// Interrupt blocked reads with a socket deadline rather than a cancel
	// request, which would end the walsender's stream.
	cfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.DeadlineContextWatcherHandler{Conn: pgConn.Conn()}
	}

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrStream, err)
	}
	return &PgReplicationConn{conn: conn}, nil
}

func (c *PgReplicationConn) ConfirmedFlushLSN(ctx context.Context, slot string) (pglogrepl.LSN, error) {
	sql := "SELECT confirmed_flush_lsn FROM pg_replication_slots WHERE slot_name = " + pq.QuoteLiteral(slot)
	results, err := c.conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return 0, fmt.Errorf("query confirmed_flush_lsn: %w", err)
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return 0, fmt.Errorf("replication slot %q does not exist", slot)
	}
	raw := results[0].Rows[0][0]
	if raw == nil {
		return 0, nil
	}
	return pglogrepl.ParseLSN(string(raw))
}

func (c *PgReplicationConn) StartReplication(ctx context.Context, slot string, start pglogrepl.LSN, publication string) error {
	return pglogrepl.StartReplication(ctx, c.conn, pq.QuoteIdentifier(slot), start, pglogrepl.StartReplicationOptions{
		Mode: pglogrepl.LogicalReplication,
		PluginArgs: []string{
			"proto_version '1'",
			"publication_names " + pq.QuoteLiteral(publication),
		},
	})
}

func (c *PgReplicationConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		msg, err := c.conn.ReceiveMessage(ctx)
		if err != nil {
			if pgconn.Timeout(err) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrReceiveTimeout
			}
			return nil, err
		}
		switch msg := msg.(type) {
		case *pgproto3.CopyData:
			// the pgconn read buffer is reused by the next receive
			return append([]byte(nil), msg.Data...), nil
		case *pgproto3.CopyDone:
			return nil, io.EOF
		case *pgproto3.ErrorResponse:
			return nil, pgconn.ErrorResponseToPgError(msg)
		case *pgproto3.NoticeResponse:
			log.Warn().Str("notice", msg.Message).Msg("replication stream notice")
		default:
			return nil, fmt.Errorf("%w: unexpected %T on replication stream", ErrProtocol, msg)
		}
	}
}

func (c *PgReplicationConn) SendStandbyStatus(ctx context.Context, status pglogrepl.StandbyStatusUpdate) error {
	return pglogrepl.SendStandbyStatusUpdate(ctx, c.conn, status)
}

func (c *PgReplicationConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// EnsureSlot creates the pgoutput logical slot unless it exists. It must be
// called before StartReplication.
func (c *PgReplicationConn) EnsureSlot(ctx context.Context, slot string) error {
	results, err := c.conn.Exec(ctx,
		"SELECT 1 FROM pg_replication_slots WHERE slot_name = "+pq.QuoteLiteral(slot)).ReadAll()
	if err != nil {
		return fmt.Errorf("look up replication slot: %w", err)
	}
	if len(results) > 0 && len(results[0].Rows) > 0 {
		return nil
	}

	_, err = pglogrepl.CreateReplicationSlot(ctx, c.conn, pq.QuoteIdentifier(slot), "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{
			SnapshotAction: "NOEXPORT_SNAPSHOT",
			Mode:           pglogrepl.LogicalReplication,
		})
	if err != nil {
		var pgErr *pgconn.PgError
		// lost a race with another relay creating the same slot
		if errors.As(err, &pgErr) && pgErr.Code == "42710" {
			return nil
		}
		return fmt.Errorf("create replication slot %s: %w", slot, err)
	}
	log.Info().Str("slot", slot).Msg("created replication slot")
	return nil
}
