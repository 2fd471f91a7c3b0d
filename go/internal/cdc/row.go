package cdc

import (
	"fmt"

	"github.com/jackc/pglogrepl"
)

// Column is one value of a replicated row together with the relation
// metadata describing it.
type Column struct {
	Name    string
	TypeOID uint32
	Kind    uint8
	Data    []byte
}

func (c Column) IsNull() bool { return c.Kind == pglogrepl.TupleDataTypeNull }

func (c Column) IsText() bool { return c.Kind == pglogrepl.TupleDataTypeText }

func (c Column) IsBinary() bool { return c.Kind == pglogrepl.TupleDataTypeBinary }

// IsUnchanged reports an unchanged TOASTed value the server did not resend.
func (c Column) IsUnchanged() bool { return c.Kind == pglogrepl.TupleDataTypeToast }

// Row is a replicated row in relation column order.
type Row struct {
	Namespace string
	Table     string
	Columns   []Column
}

// Get returns the column with the given name.
func (r Row) Get(name string) (Column, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// At returns the i-th column.
func (r Row) At(i int) (Column, bool) {
	if i < 0 || i >= len(r.Columns) {
		return Column{}, false
	}
	return r.Columns[i], true
}

func (r Row) Len() int { return len(r.Columns) }

// newRow names the tuple's columns after rel. Unchanged TOAST values in the
// new tuple are filled from the old one when the server sent a full old row.
func newRow(rel *pglogrepl.RelationMessage, tuple, old *pglogrepl.TupleData) (Row, error) {
	if tuple == nil {
		return Row{}, fmt.Errorf("%w: %s.%s: row change without tuple", ErrProtocol, rel.Namespace, rel.RelationName)
	}
	if len(tuple.Columns) != len(rel.Columns) {
		return Row{}, fmt.Errorf("%w: %s.%s: tuple has %d columns, relation has %d",
			ErrProtocol, rel.Namespace, rel.RelationName, len(tuple.Columns), len(rel.Columns))
	}

	row := Row{
		Namespace: rel.Namespace,
		Table:     rel.RelationName,
		Columns:   make([]Column, len(rel.Columns)),
	}
	for i, def := range rel.Columns {
		val := tuple.Columns[i]
		if val.DataType == pglogrepl.TupleDataTypeToast && old != nil && i < len(old.Columns) {
			val = old.Columns[i]
		}
		row.Columns[i] = Column{
			Name:    def.Name,
			TypeOID: def.DataType,
			Kind:    val.DataType,
			Data:    val.Data,
		}
	}
	return row, nil
}
