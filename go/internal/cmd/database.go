package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/dbconfig"
	"github.com/mcdev12/pgoutbox/go/internal/outbox"
)

// setupDatabase opens the pool the outbox client writes through and makes
// sure the table and publication exist.
func setupDatabase(ctx context.Context, dbConfig dbconfig.Config, publication string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := outbox.EnsureSchema(ctx, pool, publication); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")
	return pool, nil
}
