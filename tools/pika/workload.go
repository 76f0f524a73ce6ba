package main

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/maxpert/burrow/binlog"
)

type OpType int

const (
	OpInsert OpType = iota
	OpUpdate
	OpDelete
	OpQuery
)

func (o OpType) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpQuery:
		return "QUERY"
	default:
		return "UNKNOWN"
	}
}

// KeyGenerator hands out row ids.
// Thread-safe: uses atomic operations for the counter, caller provides rng.
type KeyGenerator struct {
	counter uint64
}

// NewKeyGenerator creates a key generator whose first insert key follows existingRows.
func NewKeyGenerator(existingRows int64) *KeyGenerator {
	return &KeyGenerator{counter: uint64(existingRows)}
}

// NextInsertKey returns a fresh id.
func (g *KeyGenerator) NextInsertKey() int64 {
	return int64(atomic.AddUint64(&g.counter, 1))
}

// RandomExistingKey returns an id that has been handed out, or 0 when none has.
func (g *KeyGenerator) RandomExistingKey(rng *rand.Rand) int64 {
	max := atomic.LoadUint64(&g.counter)
	if max == 0 {
		return 0
	}
	return int64(rng.Int63n(int64(max))) + 1
}

// MaxKey returns the highest id handed out.
func (g *KeyGenerator) MaxKey() int64 {
	return int64(atomic.LoadUint64(&g.counter))
}

// OpSelector selects operations based on workload distribution.
// Not thread-safe: each worker owns one.
type OpSelector struct {
	thresholds [4]int
	rng        *rand.Rand
}

// NewOpSelector creates an operation selector.
func NewOpSelector(dist WorkloadDistribution, seed int64) *OpSelector {
	s := &OpSelector{rng: rand.New(rand.NewSource(seed))}
	s.thresholds[0] = dist.Insert
	s.thresholds[1] = s.thresholds[0] + dist.Update
	s.thresholds[2] = s.thresholds[1] + dist.Delete
	s.thresholds[3] = s.thresholds[2] + dist.Query
	return s
}

// Select returns a random operation type based on distribution.
func (s *OpSelector) Select() OpType {
	r := s.rng.Intn(100)

	if r < s.thresholds[0] {
		return OpInsert
	}
	if r < s.thresholds[1] {
		return OpUpdate
	}
	if r < s.thresholds[2] {
		return OpDelete
	}
	return OpQuery
}

// benchmarkColumns is the layout of every generated table:
// id, qty, price DECIMAL(4 int bytes, 1 fraction byte), note.
var benchmarkColumns = []binlog.Column{
	{Name: "id", Type: binlog.ColumnLong},
	{Name: "qty", Type: binlog.ColumnShort},
	{Name: "price", Type: binlog.ColumnDecimal, Metadata: 0x41},
	{Name: "note", Type: binlog.ColumnVarchar},
}

// tableMaps returns the table maps a worker announces before writing rows.
// Table ids start at 1.
func tableMaps(schema, table string, n int) []*binlog.TableMap {
	maps := make([]*binlog.TableMap, n)
	for i := range maps {
		maps[i] = &binlog.TableMap{
			ID:      uint32(i + 1),
			Schema:  schema,
			Table:   fmt.Sprintf("%s_%d", table, i),
			Columns: benchmarkColumns,
		}
	}
	return maps
}

// generateRow builds a row image for id.
func generateRow(rng *rand.Rand, id int64) []any {
	var note any
	if rng.Intn(10) > 0 {
		note = generateFieldValue(rng)
	}
	return []any{
		id,
		int64(rng.Intn(1000)),
		fmt.Sprintf("%d.%02d", rng.Intn(100000), rng.Intn(100)),
		note,
	}
}

// generateFieldValue generates a random text value.
func generateFieldValue(rng *rand.Rand) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[rng.Intn(len(chars))]
	}
	return string(b)
}

// EncodeOp encodes one operation against tm as a journal record.
func EncodeOp(enc binlog.Encoder, seqno uint64, ts time.Time, tm *binlog.TableMap, op Operation) ([]byte, error) {
	switch op.Type {
	case OpInsert:
		return enc.Insert(seqno, ts, tm, op.After)
	case OpUpdate:
		return enc.Update(seqno, ts, tm, op.Before, op.After)
	case OpDelete:
		return enc.Delete(seqno, ts, tm, op.Before)
	case OpQuery:
		return enc.Query(seqno, ts, tm.Schema, fmt.Sprintf("ANALYZE TABLE %s.%s", tm.Schema, tm.Table))
	default:
		return nil, fmt.Errorf("unknown operation type: %v", op.Type)
	}
}

// Operation is one generated change.
type Operation struct {
	Type   OpType
	Table  int // index into the worker's table maps
	Key    int64
	Before []any
	After  []any
}
