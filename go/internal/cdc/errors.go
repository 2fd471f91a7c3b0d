package cdc

import "errors"

var (
	// ErrDecode is returned when a row from the change stream cannot be
	// decoded into the subscribed entity. It is fatal to Listen.
	ErrDecode = errors.New("cdc: decode row")

	// ErrHandler wraps a failure reported by the record handler.
	ErrHandler = errors.New("cdc: handler failed")

	// ErrStream wraps I/O failures on the replication connection.
	ErrStream = errors.New("cdc: replication stream")

	// ErrProtocol is returned for frames that violate the replication protocol,
	// such as a row change outside a transaction.
	ErrProtocol = errors.New("cdc: protocol violation")

	// ErrReceiveTimeout is returned by ReplicationConn.Receive when no frame
	// arrived before the receive deadline. The stream stays usable.
	ErrReceiveTimeout = errors.New("cdc: receive timeout")

	ErrAlreadyStarted = errors.New("cdc: subscriber already started")
)
