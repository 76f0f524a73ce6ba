package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		JournalPath: filepath.Join(t.TempDir(), "journal"),
		Schema:      "bench",
		Table:       "items",
		Tables:      2,
		Threads:     2,
		BatchSize:   7,
		InsertPct:   -1,
		UpdatePct:   -1,
		DeletePct:   -1,
		QueryPct:    -1,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func scanPath(t *testing.T, path string) *JournalScan {
	t.Helper()
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	decoder, err := binlog.NewDecoder(binlog.DecoderConfig{})
	require.NoError(t, err)
	scan, err := ScanJournal(context.Background(), j, decoder)
	require.NoError(t, err)
	return scan
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{JournalPath: "j", Schema: "s", Table: "t", Tables: 1, Threads: 1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mixed", cfg.Workload)
	assert.Equal(t, "pika", cfg.SourcePrefix)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, "pika-3", cfg.SourceID(3))

	bad := *cfg
	bad.JournalPath = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Workload = "read-only"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Tables = 0
	assert.Error(t, bad.Validate())
}

func TestWorkloadDistribution(t *testing.T) {
	cfg := &Config{Workload: "churn", InsertPct: -1, UpdatePct: -1, DeletePct: -1, QueryPct: -1}
	dist := cfg.GetWorkloadDistribution()
	assert.Equal(t, WorkloadDistribution{Insert: 45, Update: 10, Delete: 45}, dist)
	assert.NoError(t, dist.Validate())

	cfg.QueryPct = 10
	assert.Error(t, cfg.GetWorkloadDistribution().Validate())
}

func TestOpSelector(t *testing.T) {
	s := NewOpSelector(WorkloadDistribution{Update: 100}, 1)
	for i := 0; i < 100; i++ {
		assert.Equal(t, OpUpdate, s.Select())
	}

	s = NewOpSelector(WorkloadDistribution{Insert: 50, Query: 50}, 1)
	seen := map[OpType]int{}
	for i := 0; i < 1000; i++ {
		seen[s.Select()]++
	}
	assert.Zero(t, seen[OpUpdate])
	assert.Zero(t, seen[OpDelete])
	assert.Greater(t, seen[OpInsert], 0)
	assert.Greater(t, seen[OpQuery], 0)
}

func TestKeyGenerator(t *testing.T) {
	g := NewKeyGenerator(10)
	assert.Equal(t, int64(11), g.NextInsertKey())
	assert.Equal(t, int64(11), g.MaxKey())

	empty := NewKeyGenerator(0)
	assert.Zero(t, empty.RandomExistingKey(nil))
}

func TestLoadAndVerify(t *testing.T) {
	cfg := testConfig(t)
	cfg.Records = 50
	cfg.HeartbeatEvery = 10

	require.NoError(t, executeLoad(context.Background(), cfg))

	scan := scanPath(t, cfg.JournalPath)
	assert.False(t, scan.Failed(), "%v", scan.FirstError)
	assert.Equal(t, int64(50), scan.Count(binlog.RecordWriteRows))
	assert.Equal(t, int64(4), scan.Count(binlog.RecordTableMap))
	assert.Equal(t, int64(4), scan.Count(binlog.RecordHeartbeat))
	assert.Equal(t, 50, scan.Events)
	require.Len(t, scan.Sources, 2)
	// 2 table maps + 25 inserts + 2 heartbeats
	assert.Equal(t, uint64(29), scan.LastSeqno("pika-0"))

	// A second load continues each source's seqnos.
	cfg.Records = 10
	require.NoError(t, executeLoad(context.Background(), cfg))

	scan = scanPath(t, cfg.JournalPath)
	assert.False(t, scan.Failed())
	assert.Equal(t, int64(60), scan.Count(binlog.RecordWriteRows))
	assert.Equal(t, uint64(29+2+5), scan.LastSeqno("pika-0"))

	cfg.ExpectSources = 2
	assert.NoError(t, executeVerify(context.Background(), cfg))
	cfg.ExpectSources = 3
	assert.Error(t, executeVerify(context.Background(), cfg))
}

func TestRunWorkload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload = "mixed"
	cfg.Operations = 200

	require.NoError(t, executeRun(context.Background(), cfg))

	scan := scanPath(t, cfg.JournalPath)
	assert.False(t, scan.Failed(), "%v", scan.FirstError)
	assert.Equal(t, 200, scan.Events)
	assert.Equal(t, int64(4), scan.Count(binlog.RecordTableMap))
	assert.Greater(t, scan.Count(binlog.RecordWriteRows), int64(0))
}

func TestScanJournal_DetectsRegression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := journal.Open(path)
	require.NoError(t, err)

	var enc binlog.Encoder
	now := time.Now()
	_, err = j.Append("x", enc.Heartbeat(5, now), enc.Heartbeat(3, now))
	require.NoError(t, err)
	_, err = j.Append("y", enc.Heartbeat(3, now), []byte{1, 2, 3})
	require.NoError(t, err)

	scan, err := ScanJournal(context.Background(), j, nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.True(t, scan.Failed())
	require.Len(t, scan.Regressions, 1)
	assert.Equal(t, Regression{Source: "x", Position: 2, Seqno: 3, Previous: 5}, scan.Regressions[0])
	assert.Equal(t, 1, scan.Malformed)
	assert.Equal(t, uint64(5), scan.LastSeqno("x"))
	assert.Equal(t, uint64(3), scan.LastSeqno("y"))
}

func TestStats_Latency(t *testing.T) {
	s := NewStats()
	assert.Equal(t, LatencySummary{}, s.Latency())

	for i := 1; i <= 100; i++ {
		s.RecordAppend(time.Duration(i) * time.Microsecond)
	}
	s.RecordOp(OpInsert)
	s.RecordOp(OpQuery)
	s.RecordError(OpDelete)

	lat := s.Latency()
	assert.Equal(t, int64(1), lat.Min)
	assert.Equal(t, int64(100), lat.Max)
	assert.Equal(t, int64(50), lat.Avg)
	assert.Equal(t, int64(51), lat.P50)
	assert.Equal(t, int64(100), lat.P99)

	snap := s.GetSnapshot()
	assert.Equal(t, uint64(2), snap.Total())
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(100), snap.Appends)
}
