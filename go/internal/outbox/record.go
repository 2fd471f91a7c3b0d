package outbox

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
)

func (*EventRecord) TableName() string { return TableName }

// DecodeRow reads a replicated outbox row. Columns may arrive in text or
// binary format; bytea text is expected in hex output form.
func (r *EventRecord) DecodeRow(row cdc.Row) error {
	var err error
	if r.ID, err = uuidColumn(row, "id"); err != nil {
		return err
	}
	if r.AggID, err = uuidColumn(row, "agg_id"); err != nil {
		return err
	}

	col, err := column(row, "event_type")
	if err != nil {
		return err
	}
	r.EventType = string(col.Data)

	if r.Data, err = byteaColumn(row, "data"); err != nil {
		return err
	}
	if r.TTL, err = int2Column(row, "ttl"); err != nil {
		return err
	}
	return nil
}

// column returns a present, non-null value.
func column(row cdc.Row, name string) (cdc.Column, error) {
	col, ok := row.Get(name)
	switch {
	case !ok:
		return col, fmt.Errorf("%w: missing column %s", cdc.ErrDecode, name)
	case col.IsNull():
		return col, fmt.Errorf("%w: column %s is null", cdc.ErrDecode, name)
	case col.IsUnchanged():
		return col, fmt.Errorf("%w: column %s was not sent (unchanged toast)", cdc.ErrDecode, name)
	}
	return col, nil
}

func uuidColumn(row cdc.Row, name string) (uuid.UUID, error) {
	col, err := column(row, name)
	if err != nil {
		return uuid.Nil, err
	}
	if col.IsBinary() {
		id, err := uuid.FromBytes(col.Data)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: column %s: %w", cdc.ErrDecode, name, err)
		}
		return id, nil
	}
	id, err := uuid.ParseBytes(col.Data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: column %s: %w", cdc.ErrDecode, name, err)
	}
	return id, nil
}

func byteaColumn(row cdc.Row, name string) ([]byte, error) {
	col, ok := row.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: missing column %s", cdc.ErrDecode, name)
	}
	switch {
	case col.IsNull():
		return nil, nil
	case col.IsUnchanged():
		return nil, fmt.Errorf("%w: column %s was not sent (unchanged toast)", cdc.ErrDecode, name)
	case col.IsBinary():
		return col.Data, nil
	}

	text, ok := strings.CutPrefix(string(col.Data), `\x`)
	if !ok {
		return nil, fmt.Errorf("%w: column %s: bytea is not in hex format", cdc.ErrDecode, name)
	}
	data, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: column %s: %w", cdc.ErrDecode, name, err)
	}
	return data, nil
}

func int2Column(row cdc.Row, name string) (int16, error) {
	col, err := column(row, name)
	if err != nil {
		return 0, err
	}
	if col.IsBinary() {
		if len(col.Data) != 2 {
			return 0, fmt.Errorf("%w: column %s: int2 has %d bytes", cdc.ErrDecode, name, len(col.Data))
		}
		return int16(binary.BigEndian.Uint16(col.Data)), nil
	}
	v, err := strconv.ParseInt(string(col.Data), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: column %s: %w", cdc.ErrDecode, name, err)
	}
	return int16(v), nil
}
