package cdc

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureConn records what the client writes to the server.
type captureConn struct {
	net.Conn
	buf bytes.Buffer
}

func (c *captureConn) Write(b []byte) (int, error) { return c.buf.Write(b) }

func (c *captureConn) Close() error { return nil }

func newCaptureReplicationConn(t *testing.T) (*PgReplicationConn, *captureConn) {
	t.Helper()
	cfg, err := pgconn.ParseConfig("postgres://localhost/outbox")
	require.NoError(t, err)

	capture := &captureConn{}
	conn, err := pgconn.Construct(&pgconn.HijackedConn{Conn: capture, Config: cfg})
	require.NoError(t, err)
	return &PgReplicationConn{conn: conn}, capture
}

func TestSendStandbyStatusWireLayout(t *testing.T) {
	conn, capture := newCaptureReplicationConn(t)

	at := time.Date(2000, time.January, 1, 0, 0, 1, 0, time.UTC)
	err := conn.SendStandbyStatus(context.Background(), pglogrepl.StandbyStatusUpdate{
		WALWritePosition: 0x16B3748,
		WALFlushPosition: 0x16B3748,
		WALApplyPosition: 0x16B3748,
		ClientTime:       at,
		ReplyRequested:   true,
	})
	require.NoError(t, err)

	frame := capture.buf.Bytes()
	require.Len(t, frame, 1+4+34)
	assert.Equal(t, byte('d'), frame[0])
	assert.Equal(t, uint32(4+34), binary.BigEndian.Uint32(frame[1:5]))

	msg := frame[5:]
	assert.Equal(t, byte(pglogrepl.StandbyStatusUpdateByteID), msg[0])
	for _, off := range []int{1, 9, 17} {
		assert.Equal(t, uint64(0x16B3748), binary.BigEndian.Uint64(msg[off:off+8]), "position at %d", off)
	}
	assert.Equal(t, uint64(1_000_000), binary.BigEndian.Uint64(msg[25:33]))
	assert.Equal(t, byte(1), msg[33])
}
