// Package binlog decodes binary transaction-log records into pipeline events.
//
// The package has two layers. convert.go holds the pure big-endian
// conversions (unsigned ints, signed 2- and 3-byte ints, digit strings).
// Decoder builds structured events from framed records using those
// conversions and a bounded cache of table maps.
//
// Record frame (big-endian):
//
//	[0,4)   total record length, header included
//	[4,5)   record type
//	[5,9)   seqno, high 32 bits
//	[9,13)  seqno, low 32 bits
//	[13,17) commit timestamp, unix seconds
//	[17,..) body, see Encoder for the per-type layout
package binlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/burrow/event"
	"github.com/rs/zerolog/log"
)

// DefaultTableCacheSize bounds the number of table maps kept per decoder.
const DefaultTableCacheSize = 1024

var (
	ErrMalformedRecord = errors.New("malformed binlog record")
	ErrUnknownTable    = errors.New("unknown table id")
	ErrInvalidText     = errors.New("invalid text encoding")
)

// Codec turns the raw bytes of a text column or statement into a string.
// Character-set conversion lives outside the decoder.
type Codec interface {
	Decode(b []byte) (string, error)
}

// RawCodec passes bytes through as UTF-8. With Strict set, invalid UTF-8 is rejected.
type RawCodec struct {
	Strict bool
}

func (c RawCodec) Decode(b []byte) (string, error) {
	if c.Strict && !utf8.Valid(b) {
		return "", ErrInvalidText
	}
	return string(b), nil
}

// Header is the fixed prefix of every record.
type Header struct {
	Length    uint32
	Type      RecordType
	Seqno     uint64
	Timestamp time.Time
}

// ParseHeader reads and validates the record header.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < headerSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedRecord, len(raw), headerSize)
	}

	h := Header{
		Length:    UnsignedInt(raw, 0, 4),
		Type:      RecordType(raw[4]),
		Seqno:     uint64(UnsignedInt(raw, 5, 4))<<32 | uint64(UnsignedInt(raw, 9, 4)),
		Timestamp: time.Unix(int64(UnsignedInt(raw, 13, 4)), 0),
	}

	if int(h.Length) != len(raw) {
		return Header{}, fmt.Errorf("%w: header length %d does not match record size %d", ErrMalformedRecord, h.Length, len(raw))
	}

	return h, nil
}

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	TableCacheSize int
	Codec          Codec
}

type tableKey struct {
	source string
	id     uint32
}

// Decoder converts framed records into events. The only state it keeps is
// the table-map cache, which is safe for concurrent use.
type Decoder struct {
	codec  Codec
	tables *lru.Cache[tableKey, *TableMap]
}

// NewDecoder creates a decoder.
func NewDecoder(config DecoderConfig) (*Decoder, error) {
	if config.TableCacheSize <= 0 {
		config.TableCacheSize = DefaultTableCacheSize
	}
	if config.Codec == nil {
		config.Codec = RawCodec{}
	}

	tables, err := lru.New[tableKey, *TableMap](config.TableCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create table map cache: %w", err)
	}

	return &Decoder{codec: config.Codec, tables: tables}, nil
}

// Decode converts one record from sourceID into an event.
// TableMap and Heartbeat records update decoder state only and return a nil event.
func (d *Decoder) Decode(sourceID string, raw []byte) (*event.Event, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	r := &recordReader{buf: raw, pos: headerSize}
	var ev *event.Event

	switch h.Type {
	case RecordTableMap:
		tm, err := d.decodeTableMap(r)
		if err != nil {
			return nil, fmt.Errorf("seqno %d: %w", h.Seqno, err)
		}
		d.tables.Add(tableKey{source: sourceID, id: tm.ID}, tm)
		log.Debug().
			Str("source", sourceID).
			Uint32("table_id", tm.ID).
			Str("table", tm.Schema+"."+tm.Table).
			Msg("Mapped table")

	case RecordWriteRows, RecordUpdateRows, RecordDeleteRows:
		rc, err := d.decodeRows(sourceID, h.Type, r)
		if err != nil {
			return nil, fmt.Errorf("seqno %d: %w", h.Seqno, err)
		}
		ev = event.NewData(sourceID, h.Seqno, rc.QualifiedName(), h.Timestamp, rc)

	case RecordQuery:
		st, err := d.decodeQuery(r)
		if err != nil {
			return nil, fmt.Errorf("seqno %d: %w", h.Seqno, err)
		}
		ev = event.NewData(sourceID, h.Seqno, st.Schema, h.Timestamp, st)

	case RecordHeartbeat:

	default:
		return nil, fmt.Errorf("%w: seqno %d has unknown record type %s", ErrMalformedRecord, h.Seqno, h.Type)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: seqno %d has %d trailing bytes", ErrMalformedRecord, h.Seqno, r.remaining())
	}

	return ev, nil
}

// Table returns the cached table map for a source, if present.
func (d *Decoder) Table(sourceID string, id uint32) (*TableMap, bool) {
	return d.tables.Get(tableKey{source: sourceID, id: id})
}

func (d *Decoder) decodeTableMap(r *recordReader) (*TableMap, error) {
	id, err := r.uint(4)
	if err != nil {
		return nil, err
	}
	schema, err := r.name()
	if err != nil {
		return nil, err
	}
	table, err := r.name()
	if err != nil {
		return nil, err
	}
	count, err := r.uint(2)
	if err != nil {
		return nil, err
	}

	tm := &TableMap{ID: id, Schema: schema, Table: table, Columns: make([]Column, 0, count)}
	for i := 0; i < int(count); i++ {
		typ, err := r.uint(1)
		if err != nil {
			return nil, err
		}
		meta, err := r.uint(1)
		if err != nil {
			return nil, err
		}
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		if typ < uint32(ColumnTiny) || typ > uint32(ColumnVarchar) {
			return nil, fmt.Errorf("%w: column %q has unknown type %d", ErrMalformedRecord, name, typ)
		}
		tm.Columns = append(tm.Columns, Column{Name: name, Type: ColumnType(typ), Metadata: uint8(meta)})
	}

	return tm, nil
}

func (d *Decoder) decodeRows(sourceID string, typ RecordType, r *recordReader) (*RowChange, error) {
	id, err := r.uint(4)
	if err != nil {
		return nil, err
	}
	tm, ok := d.tables.Get(tableKey{source: sourceID, id: id})
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, id)
	}

	rc := &RowChange{Schema: tm.Schema, Table: tm.Table, Columns: tm.ColumnNames()}

	switch typ {
	case RecordWriteRows:
		rc.Op = OpInsert
		if rc.After, err = d.decodeRowImage(tm, r); err != nil {
			return nil, err
		}
	case RecordUpdateRows:
		rc.Op = OpUpdate
		if rc.Before, err = d.decodeRowImage(tm, r); err != nil {
			return nil, err
		}
		if rc.After, err = d.decodeRowImage(tm, r); err != nil {
			return nil, err
		}
	case RecordDeleteRows:
		rc.Op = OpDelete
		if rc.Before, err = d.decodeRowImage(tm, r); err != nil {
			return nil, err
		}
	}

	return rc, nil
}

func (d *Decoder) decodeRowImage(tm *TableMap, r *recordReader) ([]any, error) {
	values := make([]any, len(tm.Columns))
	for i, col := range tm.Columns {
		isNull, err := r.uint(1)
		if err != nil {
			return nil, err
		}
		if isNull != 0 {
			continue
		}
		v, err := d.decodeValue(col, r)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", tm.Table, col.Name, err)
		}
		values[i] = v
	}
	return values, nil
}

func (d *Decoder) decodeValue(col Column, r *recordReader) (any, error) {
	switch col.Type {
	case ColumnTiny:
		v, err := r.uint(1)
		return int64(int8(v)), err
	case ColumnShort:
		v, err := r.short()
		return int64(v), err
	case ColumnInt24:
		v, err := r.int24()
		return int64(v), err
	case ColumnLong:
		v, err := r.uint(4)
		return int64(v), err
	case ColumnDecimal:
		return d.decodeDecimal(col.Metadata, r)
	case ColumnVarchar:
		n, err := r.uint(2)
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return d.codec.Decode(b)
	default:
		return nil, fmt.Errorf("%w: unknown column type %d", ErrMalformedRecord, col.Type)
	}
}

// decodeDecimal renders sign, integer digits and fraction digits. Leading
// zeros of the integer part come from chunk padding and are trimmed;
// fraction digits are kept as rendered.
func (d *Decoder) decodeDecimal(meta uint8, r *recordReader) (string, error) {
	sign, err := r.uint(1)
	if err != nil {
		return "", err
	}
	intDigits, err := r.digits(int(meta >> 4))
	if err != nil {
		return "", err
	}
	fracDigits, err := r.digits(int(meta & 0x0f))
	if err != nil {
		return "", err
	}

	s := strings.TrimLeft(intDigits, "0")
	if s == "" {
		s = "0"
	}
	if fracDigits != "" {
		s += "." + fracDigits
	}
	if sign != 0 {
		s = "-" + s
	}
	return s, nil
}

func (d *Decoder) decodeQuery(r *recordReader) (*Statement, error) {
	schema, err := r.name()
	if err != nil {
		return nil, err
	}
	n, err := r.uint(4)
	if err != nil {
		return nil, err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	sql, err := d.codec.Decode(b)
	if err != nil {
		return nil, err
	}
	return &Statement{Schema: schema, SQL: sql}, nil
}
