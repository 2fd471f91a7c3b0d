package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderCreated struct {
	OrderID uuid.UUID
}

func (o orderCreated) ToRecord() EventRecord {
	return EventRecord{AggID: o.OrderID, EventType: "order.created", Data: []byte(`{}`)}
}

func TestClientPersistOne(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	orderID := uuid.New()

	require.NoError(t, client.PersistOne(context.Background(), orderCreated{OrderID: orderID}))

	rows := db.snapshot()
	require.Len(t, rows, 1)
	assert.NotEqual(t, uuid.Nil, rows[0].ID)
	assert.Equal(t, orderID, rows[0].AggID)
	assert.Equal(t, "order.created", rows[0].EventType)
	assert.Equal(t, DefaultTTL, rows[0].TTL)
	assert.Zero(t, db.begun)
}

func TestClientPersistKeepsExplicitIDAndTTL(t *testing.T) {
	db := newFakeDB()
	record := NewEventRecord(uuid.New(), "order.paid", []byte("x"))
	record.TTL = 7

	require.NoError(t, NewClient(db).Persist(context.Background(), record))

	rows := db.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, record, rows[0])
	assert.Equal(t, 1, db.committed)
}

func TestClientPersistStoresEmptyPayloadForNilData(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)

	require.NoError(t, client.PersistOne(context.Background(), NewEventRecord(uuid.New(), "order.cancelled", nil)))
	require.NoError(t, client.Persist(context.Background(),
		EventRecord{AggID: uuid.New(), EventType: "order.archived"},
		EventRecord{AggID: uuid.New(), EventType: "order.purged", Data: []byte{}},
	))

	rows := db.snapshot()
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.NotNil(t, r.Data, r.EventType)
		assert.Empty(t, r.Data, r.EventType)
	}
}

func TestClientPersistIsAtomic(t *testing.T) {
	db := newFakeDB()
	db.failAfter = 2
	client := NewClient(db)

	msgs := []Message{
		orderCreated{OrderID: uuid.New()},
		orderCreated{OrderID: uuid.New()},
		orderCreated{OrderID: uuid.New()},
	}
	err := client.Persist(context.Background(), msgs...)

	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, errInsert)
	assert.Empty(t, db.snapshot())
	assert.Equal(t, 1, db.rolled)
	assert.Zero(t, db.committed)
}

func TestClientPersistEmptyBatch(t *testing.T) {
	db := newFakeDB()

	require.NoError(t, NewClient(db).Persist(context.Background()))
	assert.Zero(t, db.begun)
}

func TestClientRejectsUntypedEvent(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	untyped := EventRecord{AggID: uuid.New()}

	assert.ErrorIs(t, client.PersistOne(context.Background(), untyped), ErrInvalidEvent)
	assert.ErrorIs(t, client.Persist(context.Background(), orderCreated{}, untyped), ErrInvalidEvent)
	assert.Empty(t, db.snapshot())
	assert.Zero(t, db.begun)
}

func TestClientPersistTxSharesCallerTransaction(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, client.PersistTx(ctx, tx, orderCreated{OrderID: uuid.New()}))
	assert.Empty(t, db.snapshot(), "rows are invisible before the caller commits")
	require.NoError(t, tx.Rollback(ctx))
	assert.Empty(t, db.snapshot())

	tx, err = db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, client.PersistTx(ctx, tx, orderCreated{OrderID: uuid.New()}, orderCreated{OrderID: uuid.New()}))
	require.NoError(t, tx.Commit(ctx))
	assert.Len(t, db.snapshot(), 2)
}

func TestClientUpdateTTLDecrements(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	record := NewEventRecord(uuid.New(), "order.created", nil)
	require.NoError(t, client.PersistOne(context.Background(), record))

	require.NoError(t, client.UpdateTTL(context.Background(), record.ID, record.TTL))

	rows := db.snapshot()
	assert.Equal(t, DefaultTTL-1, rows[0].TTL)
}

func TestClientUpdateTTLMissingRow(t *testing.T) {
	assert.NoError(t, NewClient(newFakeDB()).UpdateTTL(context.Background(), uuid.New(), 2))
}

func TestClientUpdateTTLWrapsError(t *testing.T) {
	db := newFakeDB()
	db.execErr = errors.New("connection reset")

	err := NewClient(db).UpdateTTL(context.Background(), uuid.New(), 2)
	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, db.execErr)
}

func TestClientDeadMessages(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	ctx := context.Background()

	alive := NewEventRecord(uuid.New(), "a", nil)
	dead1 := NewEventRecord(uuid.New(), "b", nil)
	dead2 := NewEventRecord(uuid.New(), "c", nil)
	require.NoError(t, client.Persist(ctx, alive, dead1, dead2))
	require.NoError(t, client.UpdateTTL(ctx, dead1.ID, 1))
	require.NoError(t, client.UpdateTTL(ctx, dead2.ID, 0))

	ids, err := client.DeadMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{dead1.ID, dead2.ID}, ids)

	n, err := client.CountDeadMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestClientDeadMessagesWrapsError(t *testing.T) {
	db := newFakeDB()
	db.execErr = errors.New("boom")

	_, err := NewClient(db).DeadMessages(context.Background())
	assert.ErrorIs(t, err, ErrRead)

	_, err = NewClient(db).CountDeadMessages(context.Background())
	assert.ErrorIs(t, err, ErrRead)
}

func TestEnsureSchema(t *testing.T) {
	db := newFakeDB()
	require.NoError(t, EnsureSchema(context.Background(), db, "events_pub"))

	db.execErr = errors.New("permission denied")
	assert.ErrorIs(t, EnsureSchema(context.Background(), db, "events_pub"), ErrWrite)
}
