package cdc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle stage of a Subscriber.
type State int32

const (
	StateInitializing State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats is a snapshot of a subscriber's progress.
type Stats struct {
	State State
	// LastAckLSN is the newest position reported to the server as flushed.
	LastAckLSN   pglogrepl.LSN
	LastAckAt    time.Time
	Transactions uint64
	Dispatched   uint64
}

type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock replaces the wall clock used for status timestamps and the idle
// status interval.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// txn is the set of handlers dispatched for one source transaction.
type txn struct {
	xid    uint32
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// Subscriber streams row changes of PT's table from a logical replication
// slot, hands each decoded record to a Handler and acknowledges a
// transaction's commit position only after all of its handlers succeeded.
type Subscriber[T any, PT EntityPtr[T]] struct {
	conn      ReplicationConn
	handler   Handler[PT]
	cfg       SubscriberConfig
	clock     clockwork.Clock
	namespace string
	table     string

	started   atomic.Bool
	state     atomic.Int32
	relations map[uint32]*pglogrepl.RelationMessage
	tx        *txn
	lastAck   pglogrepl.LSN
	lastSent  time.Time

	mu    sync.Mutex
	stats Stats
}

func NewSubscriber[T any, PT EntityPtr[T]](conn ReplicationConn, handler Handler[PT], cfg SubscriberConfig, opts ...Option) *Subscriber[T, PT] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	namespace, table := "", PT(new(T)).TableName()
	if ns, name, ok := strings.Cut(table, "."); ok {
		namespace, table = ns, name
	}

	return &Subscriber[T, PT]{
		conn:      conn,
		handler:   handler,
		cfg:       cfg.withDefaults(),
		clock:     o.clock,
		namespace: namespace,
		table:     table,
		relations: make(map[uint32]*pglogrepl.RelationMessage),
	}
}

func (s *Subscriber[T, PT]) State() State {
	return State(s.state.Load())
}

func (s *Subscriber[T, PT]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.State()
	return st
}

// Listen resumes the slot from its confirmed position and processes the
// stream until the server ends it, ctx is cancelled or a fatal error occurs.
// Decode, handler and stream errors are fatal; the caller restarts with a
// new Subscriber and a new connection, and unacknowledged transactions are
// redelivered in full.
//
// When Listen returns, handlers still running for the open transaction are
// abandoned: their context is cancelled but Listen does not wait for them.
func (s *Subscriber[T, PT]) Listen(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.state.Store(int32(StateClosed))
	defer s.abandon()

	start, err := s.conn.ConfirmedFlushLSN(ctx, s.cfg.Slot)
	if err != nil {
		return fmt.Errorf("%w: read confirmed position of %s: %w", ErrStream, s.cfg.Slot, err)
	}
	if err := s.conn.StartReplication(ctx, s.cfg.Slot, start, s.cfg.Publication); err != nil {
		return fmt.Errorf("%w: start replication: %w", ErrStream, err)
	}

	s.lastAck = start
	s.lastSent = s.clock.Now()
	s.mu.Lock()
	s.stats.LastAckLSN = start
	s.mu.Unlock()
	s.state.Store(int32(StateStreaming))

	log.Info().
		Str("slot", s.cfg.Slot).
		Str("publication", s.cfg.Publication).
		Str("table", s.table).
		Stringer("start_lsn", start).
		Msg("replication stream started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recvCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusInterval)
		data, err := s.conn.Receive(recvCtx)
		cancel()

		switch {
		case err == nil:
			if err := s.handleFrame(ctx, data); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrReceiveTimeout):
		case errors.Is(err, io.EOF):
			log.Info().Str("slot", s.cfg.Slot).Msg("replication stream ended by server")
			return nil
		default:
			return fmt.Errorf("%w: receive: %w", ErrStream, err)
		}

		if s.clock.Since(s.lastSent) >= s.cfg.StatusInterval {
			if err := s.sendStatus(ctx, s.lastAck); err != nil {
				return err
			}
		}
	}
}

func (s *Subscriber[T, PT]) handleFrame(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty CopyData frame", ErrProtocol)
	}

	switch data[0] {
	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(data[1:])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		msg, err := pglogrepl.Parse(xld.WALData)
		if err != nil {
			return fmt.Errorf("%w: at %s: %w", ErrProtocol, xld.WALStart, err)
		}
		return s.handleMessage(ctx, msg)

	case pglogrepl.PrimaryKeepaliveMessageByteID:
		ka, err := pglogrepl.ParsePrimaryKeepaliveMessage(data[1:])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		if ka.ReplyRequested {
			// only positions whose handlers completed may be reported
			return s.sendStatus(ctx, s.lastAck)
		}
	}
	return nil
}

func (s *Subscriber[T, PT]) handleMessage(ctx context.Context, msg pglogrepl.Message) error {
	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		s.relations[m.RelationID] = m
	case *pglogrepl.BeginMessage:
		s.begin(ctx, m.Xid)
	case *pglogrepl.InsertMessage:
		return s.dispatch(m.RelationID, m.Tuple, nil)
	case *pglogrepl.UpdateMessage:
		if s.cfg.DispatchUpdates {
			var old *pglogrepl.TupleData
			if m.OldTupleType == pglogrepl.UpdateMessageTupleTypeOld {
				old = m.OldTuple
			}
			return s.dispatch(m.RelationID, m.NewTuple, old)
		}
	case *pglogrepl.CommitMessage:
		return s.commit(ctx, m)
	}
	return nil
}

func (s *Subscriber[T, PT]) begin(ctx context.Context, xid uint32) {
	if s.tx != nil {
		// a Begin without Commit means the previous transaction will be
		// streamed again; its handlers have no position to acknowledge
		s.abandon()
	}
	txCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(txCtx)
	group.SetLimit(s.cfg.MaxInFlight)
	s.tx = &txn{xid: xid, group: group, ctx: groupCtx, cancel: cancel}
}

func (s *Subscriber[T, PT]) matches(rel *pglogrepl.RelationMessage) bool {
	if rel.RelationName != s.table {
		return false
	}
	return s.namespace == "" || rel.Namespace == s.namespace
}

func (s *Subscriber[T, PT]) dispatch(relationID uint32, tuple, old *pglogrepl.TupleData) error {
	rel, ok := s.relations[relationID]
	if !ok {
		return fmt.Errorf("%w: row change for unknown relation %d", ErrProtocol, relationID)
	}
	if !s.matches(rel) {
		return nil
	}
	if s.tx == nil {
		return fmt.Errorf("%w: row change outside a transaction", ErrProtocol)
	}

	row, err := newRow(rel, tuple, old)
	if err != nil {
		return err
	}
	record := PT(new(T))
	if err := record.DecodeRow(row); err != nil {
		if errors.Is(err, ErrDecode) {
			return err
		}
		return fmt.Errorf("%w: %s.%s: %w", ErrDecode, rel.Namespace, rel.RelationName, err)
	}

	tx := s.tx
	tx.group.Go(func() error {
		if err := s.handler.Handle(tx.ctx, record); err != nil {
			return fmt.Errorf("%w: %w", ErrHandler, err)
		}
		return nil
	})

	s.mu.Lock()
	s.stats.Dispatched++
	s.mu.Unlock()
	return nil
}

// commit is the barrier: the commit position is acknowledged only once
// every handler of the transaction returned nil.
func (s *Subscriber[T, PT]) commit(ctx context.Context, m *pglogrepl.CommitMessage) error {
	tx := s.tx
	s.tx = nil
	if tx != nil {
		err := tx.group.Wait()
		tx.cancel()
		if err != nil {
			log.Error().
				Err(err).
				Uint32("xid", tx.xid).
				Stringer("commit_lsn", m.CommitLSN).
				Msg("transaction not acknowledged")
			return fmt.Errorf("transaction %d at %s: %w", tx.xid, m.CommitLSN, err)
		}
	}

	if err := s.sendStatus(ctx, m.TransactionEndLSN); err != nil {
		return err
	}
	s.lastAck = m.TransactionEndLSN

	s.mu.Lock()
	s.stats.LastAckLSN = m.TransactionEndLSN
	s.stats.LastAckAt = s.lastSent
	s.stats.Transactions++
	s.mu.Unlock()

	log.Debug().Stringer("lsn", m.TransactionEndLSN).Msg("acknowledged transaction")
	return nil
}

func (s *Subscriber[T, PT]) sendStatus(ctx context.Context, lsn pglogrepl.LSN) error {
	now := s.clock.Now()
	status := pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
		ClientTime:       now,
		ReplyRequested:   true,
	}
	if err := s.conn.SendStandbyStatus(ctx, status); err != nil {
		return fmt.Errorf("%w: send status update at %s: %w", ErrStream, lsn, err)
	}
	s.lastSent = now
	return nil
}

// abandon cancels the handlers of the open transaction without waiting.
func (s *Subscriber[T, PT]) abandon() {
	if s.tx == nil {
		return
	}
	log.Warn().Uint32("xid", s.tx.xid).Msg("abandoning in-flight handlers")
	s.tx.cancel()
	s.tx = nil
}
