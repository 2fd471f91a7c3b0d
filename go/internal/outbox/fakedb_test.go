package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB is an in-memory events table speaking just enough of the
// statements in queries.go.
type fakeDB struct {
	mu        sync.Mutex
	rows      []EventRecord
	failAfter int // inserts allowed before every further insert fails; <0 means never
	inserts   int
	execErr   error
	onUpdate  func(updated EventRecord)
	begun     int
	committed int
	rolled    int
}

var (
	errInsert   = errors.New("insert refused")
	errNullData = errors.New(`null value in column "data" violates not-null constraint`)
)

func newFakeDB() *fakeDB {
	return &fakeDB{failAfter: -1}
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.apply(&db.rows, sql, args)
}

func (db *fakeDB) apply(rows *[]EventRecord, sql string, args []any) (pgconn.CommandTag, error) {
	if db.execErr != nil {
		return pgconn.CommandTag{}, db.execErr
	}
	switch {
	case strings.Contains(sql, "INSERT INTO events"):
		if db.failAfter >= 0 && db.inserts >= db.failAfter {
			return pgconn.CommandTag{}, errInsert
		}
		if args[3].([]byte) == nil {
			return pgconn.CommandTag{}, errNullData
		}
		db.inserts++
		*rows = append(*rows, EventRecord{
			ID:        args[0].(uuid.UUID),
			AggID:     args[1].(uuid.UUID),
			EventType: args[2].(string),
			Data:      args[3].([]byte),
			TTL:       args[4].(int16),
		})
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "UPDATE events SET ttl"):
		id, ttl := args[0].(uuid.UUID), args[1].(int16)
		for i := range *rows {
			if (*rows)[i].ID == id {
				(*rows)[i].TTL = ttl
				if db.onUpdate != nil {
					db.onUpdate((*rows)[i])
				}
				return pgconn.NewCommandTag("UPDATE 1"), nil
			}
		}
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (db *fakeDB) dead() []EventRecord {
	var out []EventRecord
	for _, r := range db.rows {
		if r.TTL <= 0 {
			out = append(out, r)
		}
	}
	return out
}

func (db *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.execErr != nil {
		return nil, db.execErr
	}
	var values []any
	for _, r := range db.dead() {
		values = append(values, r.ID)
	}
	return &fakeRows{values: values}, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.execErr != nil {
		return fakeRow{err: db.execErr}
	}
	if strings.Contains(sql, "pg_publication") {
		return fakeRow{value: false}
	}
	return fakeRow{value: int64(len(db.dead()))}
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.begun++
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) snapshot() []EventRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]EventRecord(nil), db.rows...)
}

// fakeTx buffers inserts until Commit.
type fakeTx struct {
	pgx.Tx
	db      *fakeDB
	pending []EventRecord
	done    bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	return tx.db.apply(&tx.pending, sql, args)
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.db.rows = append(tx.db.rows, tx.pending...)
	tx.db.committed++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.pending = nil
	tx.db.rolled++
	return nil
}

type fakeRows struct {
	pgx.Rows
	values []any
	pos    int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(dest[0], r.values[r.pos-1])
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

type fakeRow struct {
	value any
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest[0], r.value)
}

func assign(dest, value any) error {
	switch d := dest.(type) {
	case *uuid.UUID:
		*d = value.(uuid.UUID)
	case *int64:
		*d = value.(int64)
	case *bool:
		*d = value.(bool)
	default:
		return fmt.Errorf("cannot scan into %T", dest)
	}
	return nil
}
