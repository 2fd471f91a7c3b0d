package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/dbconfig"
	"github.com/mcdev12/pgoutbox/go/internal/outbox"
)

// OrderPlaced is a domain event stored through the outbox.
type OrderPlaced struct {
	OrderID  uuid.UUID `json:"orderId"`
	Customer string    `json:"customer"`
	Total    int64     `json:"total"`
	PlacedAt time.Time `json:"placedAt"`
}

func (e OrderPlaced) ToRecord() outbox.EventRecord {
	data, _ := json.Marshal(e)
	return outbox.NewEventRecord(e.OrderID, "order.placed", data)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	repl := dbconfig.NewReplicationConfigFromEnv()
	if err := outbox.EnsureSchema(ctx, pool, repl.Publication); err != nil {
		log.Fatal().Err(err).Msg("ensure outbox schema")
	}

	client := outbox.NewClient(pool)

	// A batch commits atomically.
	batch := make([]outbox.Message, 0, 5)
	for i := range 5 {
		batch = append(batch, OrderPlaced{
			OrderID:  uuid.New(),
			Customer: "customer-" + string(rune('a'+i)),
			Total:    int64(1000 * (i + 1)),
			PlacedAt: time.Now().UTC(),
		})
	}
	if err := client.Persist(ctx, batch...); err != nil {
		log.Fatal().Err(err).Msg("persist batch")
	}
	log.Info().Int("count", len(batch)).Msg("persisted order batch")

	// Events written next to business rows share their transaction.
	order := OrderPlaced{OrderID: uuid.New(), Customer: "customer-z", Total: 4200, PlacedAt: time.Now().UTC()}
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS orders (id uuid PRIMARY KEY, total bigint NOT NULL)`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO orders (id, total) VALUES ($1, $2)`, order.OrderID, order.Total); err != nil {
			return err
		}
		return client.PersistTx(ctx, tx, order)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("place order")
	}
	log.Info().Str("order_id", order.OrderID.String()).Msg("placed order with its event")

	dead, err := client.DeadMessages(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("list dead messages")
	}
	log.Info().Int("dead", len(dead)).Msg("dead outbox events")
}
