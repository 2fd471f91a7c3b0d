package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/outbox"
	"github.com/mcdev12/pgoutbox/go/internal/outbox/sink"
)

type publisher interface {
	sink.Publisher
	outbox.SinkStatus
	Close() error
}

func main() {
	// load .env
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// configure zerolog console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	// signal‐aware context
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := setupDatabase(ctx, cfg.Database, cfg.Subscriber.Publication)
	if err != nil {
		log.Fatal().Err(err).Msg("setup database")
	}
	defer pool.Close()

	pub, err := setupPublisher(ctx, cfg.Sink)
	if err != nil {
		log.Fatal().Err(err).Msg("setup sink")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := outbox.NewPrometheusMetrics(reg)

	mapper := sink.RawMapper(cfg.Sink.Destination)
	if cfg.Sink.Envelope {
		mapper = sink.EnvelopeMapper(cfg.Sink.Destination)
	}

	client := outbox.NewClient(pool)
	handler := outbox.NewRetryHandler(client,
		outbox.NewMetricHandler(sink.NewHandler(pub, mapper), metrics),
		metrics)

	r := &relay{
		dsn:     cfg.Database.ReplicationDSN(),
		cfg:     cfg.Subscriber,
		handler: handler,
		restart: cfg.Restart,
	}
	metrics.ObserveSubscriber(r)

	health := outbox.NewHealthChecker(pool, client, r, pub, cfg.Health)
	server := setupServer(cfg.AdminAddr, health, client, reg)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("starting admin server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info().
			Str("slot", cfg.Subscriber.Slot).
			Str("publication", cfg.Subscriber.Publication).
			Str("sink", cfg.Sink.Kind).
			Msg("starting outbox relay")
		errCh <- r.Run(ctx)
	}()

	// wait for shutdown or error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("relay exited unexpectedly")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown admin server")
	}
	log.Info().Msg("graceful shutdown complete")
}

func setupPublisher(ctx context.Context, cfg SinkConfig) (publisher, error) {
	switch cfg.Kind {
	case "amqp":
		conn, err := sink.DialAMQP(ctx, cfg.AMQP)
		if err != nil {
			return nil, err
		}
		p, err := sink.OpenAMQPPublisher(conn, cfg.AMQP)
		if err != nil {
			return nil, errors.Join(err, conn.Close())
		}
		return &amqpPublisher{AMQPPublisher: p, closeConn: conn.Close}, nil
	default:
		return sink.NewJetStreamPublisher(ctx, cfg.JetStream)
	}
}

// amqpPublisher also closes the connection the channel was opened on.
type amqpPublisher struct {
	*sink.AMQPPublisher
	closeConn func() error
}

func (p *amqpPublisher) Close() error {
	return errors.Join(p.AMQPPublisher.Close(), p.closeConn())
}
