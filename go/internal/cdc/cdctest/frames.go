// Package cdctest builds pgoutput replication frames for tests.
package cdctest

import (
	"encoding/binary"
	"time"

	"github.com/jackc/pglogrepl"
)

// Column is a relation column definition.
type Column struct {
	Name string
	OID  uint32
}

// Value is one tuple column as it appears on the wire.
type Value struct {
	Kind uint8
	Data []byte
}

func Text(s string) Value { return Value{Kind: pglogrepl.TupleDataTypeText, Data: []byte(s)} }

// Unchanged is an unchanged TOASTed value the server did not resend.
func Unchanged() Value { return Value{Kind: pglogrepl.TupleDataTypeToast} }

var pgEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

func now() uint64 { return uint64(time.Since(pgEpoch).Microseconds()) }

type builder struct {
	buf []byte
}

func (b *builder) byte(v byte) *builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *builder) u16(v uint16) *builder {
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
	return b
}

func (b *builder) u32(v uint32) *builder {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
	return b
}

func (b *builder) u64(v uint64) *builder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
	return b
}

func (b *builder) str(s string) *builder {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	return b
}

func (b *builder) tuple(values []Value) *builder {
	b.u16(uint16(len(values)))
	for _, v := range values {
		b.byte(v.Kind)
		if v.Kind == pglogrepl.TupleDataTypeText || v.Kind == pglogrepl.TupleDataTypeBinary {
			b.u32(uint32(len(v.Data)))
			b.buf = append(b.buf, v.Data...)
		}
	}
	return b
}

// XLogData wraps a pgoutput message in a 'w' CopyData payload.
func XLogData(walStart pglogrepl.LSN, msg []byte) []byte {
	b := &builder{}
	b.byte(pglogrepl.XLogDataByteID).u64(uint64(walStart)).u64(uint64(walStart)).u64(now())
	b.buf = append(b.buf, msg...)
	return b.buf
}

// Keepalive builds a 'k' CopyData payload.
func Keepalive(walEnd pglogrepl.LSN, reply bool) []byte {
	b := &builder{}
	b.byte(pglogrepl.PrimaryKeepaliveMessageByteID).u64(uint64(walEnd)).u64(now())
	if reply {
		b.byte(1)
	} else {
		b.byte(0)
	}
	return b.buf
}

func Begin(finalLSN pglogrepl.LSN, xid uint32) []byte {
	b := &builder{}
	return b.byte('B').u64(uint64(finalLSN)).u64(now()).u32(xid).buf
}

func Commit(commitLSN, endLSN pglogrepl.LSN) []byte {
	b := &builder{}
	return b.byte('C').byte(0).u64(uint64(commitLSN)).u64(uint64(endLSN)).u64(now()).buf
}

func Relation(relID uint32, namespace, name string, columns ...Column) []byte {
	b := &builder{}
	b.byte('R').u32(relID).str(namespace).str(name).byte('d').u16(uint16(len(columns)))
	for i, c := range columns {
		flags := byte(0)
		if i == 0 {
			flags = 1
		}
		b.byte(flags).str(c.Name).u32(c.OID).u32(0xFFFFFFFF)
	}
	return b.buf
}

func Insert(relID uint32, values ...Value) []byte {
	b := &builder{}
	return b.byte('I').u32(relID).byte('N').tuple(values).buf
}

func Update(relID uint32, values ...Value) []byte {
	b := &builder{}
	return b.byte('U').u32(relID).byte('N').tuple(values).buf
}

// UpdateWithOld includes the full old row as a REPLICA IDENTITY FULL table would.
func UpdateWithOld(relID uint32, old []Value, values ...Value) []byte {
	b := &builder{}
	return b.byte('U').u32(relID).byte(pglogrepl.UpdateMessageTupleTypeOld).tuple(old).byte('N').tuple(values).buf
}

func Delete(relID uint32, old ...Value) []byte {
	b := &builder{}
	return b.byte('D').u32(relID).byte('K').tuple(old).buf
}

func Origin(lsn pglogrepl.LSN, name string) []byte {
	b := &builder{}
	return b.byte('O').u64(uint64(lsn)).str(name).buf
}
