package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	SubscriberState   string    `json:"subscriber_state"`
	LastAckLSN        string    `json:"last_ack_lsn"`
	LastAckTime       time.Time `json:"last_ack_time"`
	Transactions      uint64    `json:"transactions"`
	Dispatched        uint64    `json:"dispatched"`
	DeadMessages      int64     `json:"dead_messages"`
	DatabaseConnected bool      `json:"database_connected"`
	SinkConnected     bool      `json:"sink_connected"`
	Errors            []string  `json:"errors"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// DeadCounter counts retry-exhausted events. *Client satisfies it.
type DeadCounter interface {
	CountDeadMessages(ctx context.Context) (int64, error)
}

// SinkStatus reports whether the broker connection is up.
type SinkStatus interface {
	IsConnected() bool
}

type HealthConfig struct {
	// DeadThreshold is the dead message count above which an error is reported.
	DeadThreshold int64 `yaml:"dead_threshold"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{DeadThreshold: 1000}
}

type HealthChecker struct {
	db         Pinger
	dead       DeadCounter
	subscriber StatsSource
	sink       SinkStatus
	cfg        HealthConfig
}

// NewHealthChecker builds a checker; sink may be nil when the sink exposes
// no connection state.
func NewHealthChecker(db Pinger, dead DeadCounter, subscriber StatsSource, sink SinkStatus, cfg HealthConfig) *HealthChecker {
	return &HealthChecker{
		db:         db,
		dead:       dead,
		subscriber: subscriber,
		sink:       sink,
		cfg:        cfg,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	stats := h.subscriber.Stats()
	status.SubscriberState = stats.State.String()
	status.LastAckLSN = stats.LastAckLSN.String()
	status.LastAckTime = stats.LastAckAt
	status.Transactions = stats.Transactions
	status.Dispatched = stats.Dispatched
	if stats.State != cdc.StateStreaming {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("subscriber %s", stats.State))
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	status.SinkConnected = true
	if h.sink != nil && !h.sink.IsConnected() {
		status.SinkConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, "sink disconnected")
	}

	// Dead messages need an operator, they do not make the relay unhealthy
	if status.DatabaseConnected {
		dead, err := h.dead.CountDeadMessages(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count dead messages: %v", err))
		} else {
			status.DeadMessages = dead
			if dead > h.cfg.DeadThreshold {
				status.Errors = append(status.Errors, fmt.Sprintf("high dead message count: %d", dead))
			}
		}
	}

	return status
}

// HTTP handler helper
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("encode health status")
	}
}

// DeadLister lists retry-exhausted events. *Client satisfies it.
type DeadLister interface {
	DeadMessages(ctx context.Context) ([]uuid.UUID, error)
}

// DeadMessagesHandler serves the ids of dead events as a JSON array.
func DeadMessagesHandler(dead DeadLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids, err := dead.DeadMessages(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("list dead messages")
			http.Error(w, "failed to list dead messages", http.StatusInternalServerError)
			return
		}
		if ids == nil {
			ids = []uuid.UUID{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ids); err != nil {
			log.Error().Err(err).Msg("encode dead messages")
		}
	})
}
