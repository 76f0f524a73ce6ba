package binlog

import "fmt"

// RecordType identifies the body layout of a log record.
type RecordType uint8

const (
	RecordTableMap   RecordType = 1
	RecordWriteRows  RecordType = 2
	RecordUpdateRows RecordType = 3
	RecordDeleteRows RecordType = 4
	RecordQuery      RecordType = 5
	RecordHeartbeat  RecordType = 6
)

func (t RecordType) String() string {
	switch t {
	case RecordTableMap:
		return "TABLE_MAP"
	case RecordWriteRows:
		return "WRITE_ROWS"
	case RecordUpdateRows:
		return "UPDATE_ROWS"
	case RecordDeleteRows:
		return "DELETE_ROWS"
	case RecordQuery:
		return "QUERY"
	case RecordHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ColumnType identifies how a column value is laid out in a row image.
type ColumnType uint8

const (
	ColumnTiny    ColumnType = 1 // 1 byte, signed
	ColumnShort   ColumnType = 2 // 2 bytes, signed
	ColumnInt24   ColumnType = 3 // 3 bytes, signed
	ColumnLong    ColumnType = 4 // 4 bytes, unsigned
	ColumnDecimal ColumnType = 5 // sign byte + digit chunks, sizes from metadata
	ColumnVarchar ColumnType = 6 // 2-byte length + bytes
)

// Operation types for row changes
const (
	OpInsert uint8 = 0
	OpUpdate uint8 = 1
	OpDelete uint8 = 2
)

// Header size: length(4) + type(1) + seqno hi(4) + seqno lo(4) + timestamp(4)
const headerSize = 17

// Column describes one column of a mapped table.
type Column struct {
	Name     string
	Type     ColumnType
	Metadata uint8 // Decimal: int bytes in the high nibble, fraction bytes in the low nibble
}

// TableMap binds a table id to its schema, name and column layout.
// Row records refer to tables only by id.
type TableMap struct {
	ID      uint32
	Schema  string
	Table   string
	Columns []Column
}

// ColumnNames returns the ordered column names.
func (tm *TableMap) ColumnNames() []string {
	names := make([]string, len(tm.Columns))
	for i, c := range tm.Columns {
		names[i] = c.Name
	}
	return names
}

// RowChange is the payload of a data event decoded from a rows record.
// Values are int64 for integer columns, string for decimal and varchar
// columns, nil for NULL.
type RowChange struct {
	Schema  string   `msgpack:"schema"`
	Table   string   `msgpack:"table"`
	Op      uint8    `msgpack:"op"`
	Columns []string `msgpack:"cols"`
	Before  []any    `msgpack:"before,omitempty"`
	After   []any    `msgpack:"after,omitempty"`
}

// QualifiedName returns "schema.table".
func (rc *RowChange) QualifiedName() string {
	return rc.Schema + "." + rc.Table
}

// Statement is the payload of a data event decoded from a query record.
type Statement struct {
	Schema string `msgpack:"schema"`
	SQL    string `msgpack:"sql"`
}
