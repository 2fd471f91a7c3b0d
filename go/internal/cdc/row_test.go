package cdc

import (
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:   1,
		Namespace:    "public",
		RelationName: "events",
		ColumnNum:    2,
		Columns: []*pglogrepl.RelationMessageColumn{
			{Flags: 1, Name: "id", DataType: 2950},
			{Name: "data", DataType: 17},
		},
	}
}

func TestNewRowNamesColumns(t *testing.T) {
	tuple := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte("k")},
		{DataType: pglogrepl.TupleDataTypeNull},
	}}

	row, err := newRow(testRelation(), tuple, nil)
	require.NoError(t, err)

	assert.Equal(t, "events", row.Table)
	assert.Equal(t, 2, row.Len())

	id, ok := row.Get("id")
	require.True(t, ok)
	assert.True(t, id.IsText())
	assert.Equal(t, uint32(2950), id.TypeOID)

	data, ok := row.At(1)
	require.True(t, ok)
	assert.True(t, data.IsNull())

	_, ok = row.Get("ttl")
	assert.False(t, ok)
	_, ok = row.At(2)
	assert.False(t, ok)
}

func TestNewRowFillsUnchangedToastFromOldRow(t *testing.T) {
	tuple := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte("k")},
		{DataType: pglogrepl.TupleDataTypeToast},
	}}
	old := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte("k")},
		{DataType: pglogrepl.TupleDataTypeText, Data: []byte(`\x0102`)},
	}}

	row, err := newRow(testRelation(), tuple, old)
	require.NoError(t, err)
	data, _ := row.Get("data")
	assert.Equal(t, `\x0102`, string(data.Data))

	row, err = newRow(testRelation(), tuple, nil)
	require.NoError(t, err)
	data, _ = row.Get("data")
	assert.True(t, data.IsUnchanged())
}

func TestNewRowRejectsColumnMismatch(t *testing.T) {
	tuple := &pglogrepl.TupleData{Columns: []*pglogrepl.TupleDataColumn{{DataType: pglogrepl.TupleDataTypeNull}}}

	_, err := newRow(testRelation(), tuple, nil)
	assert.ErrorIs(t, err, ErrProtocol)
}
