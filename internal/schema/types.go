// Package schema describes the column types and naming conventions of the
// per-instrument and per-sector tables, and is the only place where
// identifiers are turned into SQL text.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the tag of a ColumnType.
type Kind int

const (
	KindDate Kind = iota + 1
	KindBigInt
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindDate:
		return "DATE"
	case KindBigInt:
		return "BIGINT"
	case KindNumeric:
		return "NUMERIC"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ColumnType is a SQL column type. Precision and Scale apply to KindNumeric only.
type ColumnType struct {
	Kind      Kind
	Precision int
	Scale     int
}

var (
	Date   = ColumnType{Kind: KindDate}
	BigInt = ColumnType{Kind: KindBigInt}
	Price  = Numeric(10, 2)
)

// Numeric returns a NUMERIC(p,s) column type.
func Numeric(precision, scale int) ColumnType {
	return ColumnType{Kind: KindNumeric, Precision: precision, Scale: scale}
}

// SQL renders the type. It fails on an unknown kind or an invalid numeric shape.
func (t ColumnType) SQL() (string, error) {
	switch t.Kind {
	case KindDate:
		return "DATE", nil
	case KindBigInt:
		return "BIGINT", nil
	case KindNumeric:
		if t.Precision <= 0 || t.Scale < 0 || t.Scale > t.Precision {
			return "", fmt.Errorf("invalid NUMERIC(%d,%d)", t.Precision, t.Scale)
		}
		return fmt.Sprintf("NUMERIC(%d,%d)", t.Precision, t.Scale), nil
	}
	return "", fmt.Errorf("unknown column kind %d", int(t.Kind))
}

func (t ColumnType) String() string {
	s, err := t.SQL()
	if err != nil {
		return t.Kind.String()
	}
	return s
}

// Column is one column of a Table.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
}

// Table is a table descriptor that can render its CREATE statement.
type Table struct {
	Name    string
	Columns []Column
}

// CreateSQL renders CREATE TABLE IF NOT EXISTS for the table.
func (t Table) CreateSQL() (string, error) {
	name, err := Quote(t.Name)
	if err != nil {
		return "", err
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", t.Name)
	}
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		col, err := Quote(c.Name)
		if err != nil {
			return "", err
		}
		typ, err := c.Type.SQL()
		if err != nil {
			return "", fmt.Errorf("column %s: %w", c.Name, err)
		}
		def := col + " " + typ
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", ")), nil
}
