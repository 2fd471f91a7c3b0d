// Package sink delivers outbox records to a message broker. Publishers only
// return once the broker has confirmed the message.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/pgoutbox/go/internal/outbox"
)

var (
	// ErrPublish wraps every failed delivery.
	ErrPublish = errors.New("sink: publish")
	// ErrNacked is returned when the broker refused the message.
	ErrNacked = errors.New("sink: message nacked by broker")
	// ErrConfirmTimeout is returned when no confirmation arrived in time.
	ErrConfirmTimeout = errors.New("sink: confirmation timed out")
	// ErrReturned is returned when a mandatory message could not be routed
	// to any queue.
	ErrReturned = errors.New("sink: message returned unroutable")
)

// Message is a broker-neutral outgoing message.
type Message struct {
	// ID is used by brokers that deduplicate, normally the event id.
	ID string
	// Destination is the exchange or subject; empty means the publisher's default.
	Destination string
	RoutingKey  string
	ContentType string
	Payload     []byte
	Headers     map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Mapper turns a record into the message published for it.
type Mapper func(record *outbox.EventRecord) (Message, error)

// RawMapper publishes the record payload untouched, routed by event type.
func RawMapper(destination string) Mapper {
	return func(record *outbox.EventRecord) (Message, error) {
		return Message{
			ID:          record.ID.String(),
			Destination: destination,
			RoutingKey:  record.EventType,
			ContentType: "application/octet-stream",
			Payload:     record.Data,
			Headers:     headers(record),
		}, nil
	}
}

type envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Data        []byte          `json:"data,omitempty"`
}

// EnvelopeMapper wraps the record in a JSON envelope. JSON payloads are
// embedded as is, anything else is base64 encoded under "data".
func EnvelopeMapper(destination string) Mapper {
	return func(record *outbox.EventRecord) (Message, error) {
		env := envelope{
			EventID:     record.ID.String(),
			EventType:   record.EventType,
			AggregateID: record.AggID.String(),
			Timestamp:   time.Now().UTC(),
		}
		if json.Valid(record.Data) {
			env.Payload = json.RawMessage(record.Data)
		} else {
			env.Data = record.Data
		}

		body, err := json.Marshal(env)
		if err != nil {
			return Message{}, fmt.Errorf("marshal event: %w", err)
		}
		return Message{
			ID:          record.ID.String(),
			Destination: destination,
			RoutingKey:  record.EventType,
			ContentType: "application/json",
			Payload:     body,
			Headers:     headers(record),
		}, nil
	}
}

func headers(record *outbox.EventRecord) map[string]string {
	return map[string]string{
		"Event-ID":     record.ID.String(),
		"Event-Type":   record.EventType,
		"Aggregate-ID": record.AggID.String(),
	}
}

// Handler publishes each record it is given. Wrap it in an
// outbox.RetryHandler to turn publish failures into retries.
type Handler struct {
	publisher Publisher
	mapper    Mapper
}

func NewHandler(publisher Publisher, mapper Mapper) *Handler {
	return &Handler{
		publisher: publisher,
		mapper:    mapper,
	}
}

func (h *Handler) Handle(ctx context.Context, record *outbox.EventRecord) error {
	msg, err := h.mapper(record)
	if err != nil {
		return fmt.Errorf("%w: map event %s: %w", ErrPublish, record.ID, err)
	}
	if err := h.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%w: event %s: %w", ErrPublish, record.ID, err)
	}
	return nil
}
