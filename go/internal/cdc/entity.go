package cdc

import "context"

// Entity is a row type the subscriber can decode from the change stream.
type Entity interface {
	// TableName is the table whose changes carry this entity. It may be
	// schema qualified ("public.events").
	TableName() string
	// DecodeRow fills the receiver from a replicated row. Errors should wrap
	// ErrDecode.
	DecodeRow(row Row) error
}

// EntityPtr binds a value type to its pointer implementing Entity, so the
// subscriber can allocate records without reflection.
type EntityPtr[T any] interface {
	*T
	Entity
}

// Handler processes one decoded record. Handlers for records of the same
// transaction run concurrently.
type Handler[T any] interface {
	Handle(ctx context.Context, record T) error
}

type HandlerFunc[T any] func(ctx context.Context, record T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, record T) error {
	return f(ctx, record)
}
