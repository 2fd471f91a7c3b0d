package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
	"github.com/mcdev12/pgoutbox/go/internal/outbox"
)

var errStreamEnded = errors.New("replication stream ended")

// relay keeps one subscriber streaming at a time. Every failure discards the
// subscriber and its connection; the next one resumes from the slot's
// confirmed position, so unacknowledged transactions are delivered again.
type relay struct {
	dsn     string
	cfg     cdc.SubscriberConfig
	handler cdc.Handler[*outbox.EventRecord]
	restart RestartConfig

	mu      sync.Mutex
	current *outbox.Subscriber
	// retired counts transactions acknowledged by subscribers already
	// replaced.
	retired uint64
}

// Stats reports the running subscriber, or an initializing one between
// restarts. Transactions counts every acknowledgement since the relay
// started.
func (r *relay) Stats() cdc.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := cdc.Stats{State: cdc.StateInitializing}
	if r.current != nil {
		st = r.current.Stats()
	}
	st.Transactions += r.retired
	return st
}

func (r *relay) attach(sub *outbox.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = sub
}

func (r *relay) retire(sub *outbox.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == sub {
		r.retired += sub.Stats().Transactions
		r.current = nil
	}
}

func (r *relay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.restart.InitialInterval
	b.MaxInterval = r.restart.MaxInterval
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		streamed, err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if streamed {
			b.Reset()
		}
		if err == nil {
			err = errStreamEnded
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Error().Err(err).Dur("restart_in", wait).Msg("subscriber stopped")
	})
}

// runOnce streams until the subscriber fails. streamed reports whether it
// got as far as acknowledging a transaction.
func (r *relay) runOnce(ctx context.Context) (streamed bool, err error) {
	conn, err := cdc.ConnectReplication(ctx, r.dsn)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("close replication connection")
		}
	}()

	if err := conn.EnsureSlot(ctx, r.cfg.Slot); err != nil {
		return false, fmt.Errorf("ensure slot %s: %w", r.cfg.Slot, err)
	}

	return r.stream(ctx, conn)
}

func (r *relay) stream(ctx context.Context, conn cdc.ReplicationConn) (streamed bool, err error) {
	sub := outbox.NewSubscriber(conn, r.handler, r.cfg)
	r.attach(sub)
	defer r.retire(sub)

	err = sub.Listen(ctx)
	return sub.Stats().Transactions > 0, err
}
