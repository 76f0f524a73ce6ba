package binlog

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Encoder produces framed records in the layout Decoder reads. It is used by
// the workload tool and by tests; production records come from the source.
//
// Bodies:
//
//	TABLE_MAP: table id(4) schema(1+n) table(1+n) column count(2)
//	           then per column: type(1) metadata(1) name(1+n)
//	ROWS:      table id(4) row image (UPDATE_ROWS: before image, after image)
//	           row image: per column null flag(1) then the value when not null
//	QUERY:     schema(1+n) statement length(4) statement bytes
//	HEARTBEAT: empty
type Encoder struct{}

func (Encoder) header(typ RecordType, seqno uint64, ts time.Time, body []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(headerSize+len(body)))
	out[4] = byte(typ)
	binary.BigEndian.PutUint32(out[5:9], uint32(seqno>>32))
	binary.BigEndian.PutUint32(out[9:13], uint32(seqno))
	binary.BigEndian.PutUint32(out[13:17], uint32(ts.Unix()))
	return append(out, body...)
}

// TableMap encodes a TABLE_MAP record.
func (e Encoder) TableMap(seqno uint64, ts time.Time, tm *TableMap) ([]byte, error) {
	body := binary.BigEndian.AppendUint32(nil, tm.ID)
	var err error
	if body, err = appendName(body, tm.Schema); err != nil {
		return nil, err
	}
	if body, err = appendName(body, tm.Table); err != nil {
		return nil, err
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(tm.Columns)))
	for _, c := range tm.Columns {
		body = append(body, byte(c.Type), c.Metadata)
		if body, err = appendName(body, c.Name); err != nil {
			return nil, err
		}
	}
	return e.header(RecordTableMap, seqno, ts, body), nil
}

// Insert encodes a WRITE_ROWS record.
func (e Encoder) Insert(seqno uint64, ts time.Time, tm *TableMap, after []any) ([]byte, error) {
	return e.rows(RecordWriteRows, seqno, ts, tm, after)
}

// Update encodes an UPDATE_ROWS record.
func (e Encoder) Update(seqno uint64, ts time.Time, tm *TableMap, before, after []any) ([]byte, error) {
	return e.rows(RecordUpdateRows, seqno, ts, tm, before, after)
}

// Delete encodes a DELETE_ROWS record.
func (e Encoder) Delete(seqno uint64, ts time.Time, tm *TableMap, before []any) ([]byte, error) {
	return e.rows(RecordDeleteRows, seqno, ts, tm, before)
}

// Query encodes a QUERY record.
func (e Encoder) Query(seqno uint64, ts time.Time, schema, sql string) ([]byte, error) {
	body, err := appendName(nil, schema)
	if err != nil {
		return nil, err
	}
	body = binary.BigEndian.AppendUint32(body, uint32(len(sql)))
	body = append(body, sql...)
	return e.header(RecordQuery, seqno, ts, body), nil
}

// Heartbeat encodes a HEARTBEAT record.
func (e Encoder) Heartbeat(seqno uint64, ts time.Time) []byte {
	return e.header(RecordHeartbeat, seqno, ts, nil)
}

func (e Encoder) rows(typ RecordType, seqno uint64, ts time.Time, tm *TableMap, images ...[]any) ([]byte, error) {
	body := binary.BigEndian.AppendUint32(nil, tm.ID)
	for _, img := range images {
		if len(img) != len(tm.Columns) {
			return nil, fmt.Errorf("row image has %d values, table %s has %d columns", len(img), tm.Table, len(tm.Columns))
		}
		for i, col := range tm.Columns {
			var err error
			if body, err = appendValue(body, col, img[i]); err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
		}
	}
	return e.header(typ, seqno, ts, body), nil
}

func appendName(b []byte, s string) ([]byte, error) {
	if len(s) > 0xff {
		return nil, fmt.Errorf("identifier %q longer than 255 bytes", s)
	}
	b = append(b, byte(len(s)))
	return append(b, s...), nil
}

func appendValue(b []byte, col Column, v any) ([]byte, error) {
	if v == nil {
		return append(b, 1), nil
	}
	b = append(b, 0)

	switch col.Type {
	case ColumnTiny, ColumnShort, ColumnInt24, ColumnLong:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		switch col.Type {
		case ColumnTiny:
			return append(b, byte(int8(n))), nil
		case ColumnShort:
			return binary.BigEndian.AppendUint16(b, uint16(int16(n))), nil
		case ColumnInt24:
			u := uint32(int32(n))
			return append(b, byte(u>>16), byte(u>>8), byte(u)), nil
		default:
			return binary.BigEndian.AppendUint32(b, uint32(n)), nil
		}
	case ColumnDecimal:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected decimal string, got %T", v)
		}
		return appendDecimal(b, col.Metadata, s)
	case ColumnVarchar:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		if len(s) > 0xffff {
			return nil, fmt.Errorf("varchar value of %d bytes exceeds 65535", len(s))
		}
		b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
		return append(b, s...), nil
	default:
		return nil, fmt.Errorf("unknown column type %d", col.Type)
	}
}

// appendDecimal supports integer and fraction parts of up to 4 bytes each,
// which is all the workload generator needs. A 4-byte fraction holds nine
// digits, right-padded; shorter fractions hold the digits as an integer.
func appendDecimal(b []byte, meta uint8, s string) ([]byte, error) {
	intBytes, fracBytes := int(meta>>4), int(meta&0x0f)
	if intBytes > 4 || fracBytes > 4 {
		return nil, fmt.Errorf("decimal layout %d/%d bytes not supported by encoder", intBytes, fracBytes)
	}

	var sign byte
	if strings.HasPrefix(s, "-") {
		sign = 1
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if fracBytes == 4 {
		for len(fracPart) < 9 {
			fracPart += "0"
		}
	}

	b = append(b, sign)
	var err error
	if b, err = appendDigits(b, intPart, intBytes); err != nil {
		return nil, err
	}
	return appendDigits(b, fracPart, fracBytes)
}

func appendDigits(b []byte, digits string, n int) ([]byte, error) {
	if n == 0 {
		return b, nil
	}
	if digits == "" {
		digits = "0"
	}
	v, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal digits %q: %w", digits, err)
	}
	if n < 4 && v >= 1<<(8*n) {
		return nil, fmt.Errorf("decimal digits %q do not fit in %d bytes", digits, n)
	}
	full := binary.BigEndian.AppendUint32(nil, uint32(v))
	return append(b, full[4-n:]...), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}
