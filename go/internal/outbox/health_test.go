package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type sinkUp bool

func (p sinkUp) IsConnected() bool { return bool(p) }

func TestHealthCheckerHealthy(t *testing.T) {
	db := newFakeDB()
	h := NewHealthChecker(pinger{}, NewClient(db), staticStats{State: cdc.StateStreaming, Transactions: 3}, sinkUp(true), DefaultHealthConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, "streaming", status.SubscriberState)
	assert.Equal(t, uint64(3), status.Transactions)
	assert.True(t, status.DatabaseConnected)
	assert.True(t, status.SinkConnected)
	assert.Empty(t, status.Errors)
}

func TestHealthCheckerUnhealthy(t *testing.T) {
	h := NewHealthChecker(pinger{err: errors.New("refused")}, NewClient(newFakeDB()),
		staticStats{State: cdc.StateClosed}, sinkUp(false), DefaultHealthConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.False(t, status.DatabaseConnected)
	assert.False(t, status.SinkConnected)
	assert.Len(t, status.Errors, 3)
}

func TestHealthCheckerDeadThresholdIsAWarning(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	ctx := context.Background()
	record := NewEventRecord(uuid.New(), "x", nil)
	require.NoError(t, client.PersistOne(ctx, record))
	require.NoError(t, client.UpdateTTL(ctx, record.ID, 1))

	h := NewHealthChecker(pinger{}, client, staticStats{State: cdc.StateStreaming}, nil, HealthConfig{DeadThreshold: 0})
	status := h.Check(ctx)

	assert.True(t, status.Healthy)
	assert.Equal(t, int64(1), status.DeadMessages)
	assert.Len(t, status.Errors, 1)
}

func TestDeadMessagesHandler(t *testing.T) {
	db := newFakeDB()
	client := NewClient(db)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	DeadMessagesHandler(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dead", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	record := NewEventRecord(uuid.New(), "x", nil)
	require.NoError(t, client.PersistOne(ctx, record))
	require.NoError(t, client.UpdateTTL(ctx, record.ID, 0))

	rec = httptest.NewRecorder()
	DeadMessagesHandler(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dead", nil))
	var ids []uuid.UUID
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, []uuid.UUID{record.ID}, ids)

	db.execErr = errors.New("down")
	rec = httptest.NewRecorder()
	DeadMessagesHandler(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dead", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
