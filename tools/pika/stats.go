package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks workload statistics using atomic operations.
type Stats struct {
	// Records written per operation type
	insertOps uint64
	updateOps uint64
	deleteOps uint64
	queryOps  uint64

	// Records that could not be encoded or appended, per operation type
	insertErrors uint64
	updateErrors uint64
	deleteErrors uint64
	queryErrors  uint64

	// Table maps and heartbeats
	controlRecords uint64

	appends      uint64
	appendErrors uint64

	// Append latency (microseconds)
	mu        sync.Mutex
	latencies []int64
	lastError string
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordOp records an appended operation.
func (s *Stats) RecordOp(opType OpType) {
	switch opType {
	case OpInsert:
		atomic.AddUint64(&s.insertOps, 1)
	case OpUpdate:
		atomic.AddUint64(&s.updateOps, 1)
	case OpDelete:
		atomic.AddUint64(&s.deleteOps, 1)
	case OpQuery:
		atomic.AddUint64(&s.queryOps, 1)
	}
}

// RecordError records an operation that never reached the journal.
func (s *Stats) RecordError(opType OpType) {
	switch opType {
	case OpInsert:
		atomic.AddUint64(&s.insertErrors, 1)
	case OpUpdate:
		atomic.AddUint64(&s.updateErrors, 1)
	case OpDelete:
		atomic.AddUint64(&s.deleteErrors, 1)
	case OpQuery:
		atomic.AddUint64(&s.queryErrors, 1)
	}
}

// RecordControl records n appended table-map or heartbeat records.
func (s *Stats) RecordControl(n int) {
	atomic.AddUint64(&s.controlRecords, uint64(n))
}

// RecordAppend records one successful journal append.
func (s *Stats) RecordAppend(latency time.Duration) {
	atomic.AddUint64(&s.appends, 1)

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordAppendError records one failed journal append.
func (s *Stats) RecordAppendError(err error) {
	atomic.AddUint64(&s.appendErrors, 1)

	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// TotalOps returns total appended operations.
func (s *Stats) TotalOps() uint64 {
	return atomic.LoadUint64(&s.insertOps) +
		atomic.LoadUint64(&s.updateOps) +
		atomic.LoadUint64(&s.deleteOps) +
		atomic.LoadUint64(&s.queryOps)
}

// TotalErrors returns total failed operations.
func (s *Stats) TotalErrors() uint64 {
	return atomic.LoadUint64(&s.insertErrors) +
		atomic.LoadUint64(&s.updateErrors) +
		atomic.LoadUint64(&s.deleteErrors) +
		atomic.LoadUint64(&s.queryErrors)
}

// AppendErrors returns the number of failed appends.
func (s *Stats) AppendErrors() uint64 {
	return atomic.LoadUint64(&s.appendErrors)
}

// LatencySummary holds append latencies in microseconds.
type LatencySummary struct {
	Min, Avg, Max      int64
	P50, P90, P95, P99 int64
}

// Latency summarizes append latencies recorded so far.
func (s *Stats) Latency() LatencySummary {
	s.mu.Lock()
	sorted := append([]int64(nil), s.latencies...)
	s.mu.Unlock()

	n := len(sorted)
	if n == 0 {
		return LatencySummary{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, l := range sorted {
		sum += l
	}
	at := func(pct int) int64 { return sorted[n*pct/100] }

	return LatencySummary{
		Min: sorted[0],
		Avg: sum / int64(n),
		Max: sorted[n-1],
		P50: at(50),
		P90: at(90),
		P95: at(95),
		P99: at(99),
	}
}

// Snapshot is a copy of current counters.
type Snapshot struct {
	InsertOps uint64
	UpdateOps uint64
	DeleteOps uint64
	QueryOps  uint64
	Control   uint64
	Appends   uint64
	Errors    uint64
}

// Total returns the operations in the snapshot.
func (s Snapshot) Total() uint64 {
	return s.InsertOps + s.UpdateOps + s.DeleteOps + s.QueryOps
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		InsertOps: atomic.LoadUint64(&s.insertOps),
		UpdateOps: atomic.LoadUint64(&s.updateOps),
		DeleteOps: atomic.LoadUint64(&s.deleteOps),
		QueryOps:  atomic.LoadUint64(&s.queryOps),
		Control:   atomic.LoadUint64(&s.controlRecords),
		Appends:   atomic.LoadUint64(&s.appends),
		Errors:    s.TotalErrors(),
	}
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(elapsed time.Duration) {
	snap := s.GetSnapshot()
	totalOps := snap.Total()

	throughput := float64(totalOps) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f records/sec\n", throughput)
	fmt.Println()

	fmt.Println("Records:")
	fmt.Printf("  INSERT:  %d\n", snap.InsertOps)
	fmt.Printf("  UPDATE:  %d\n", snap.UpdateOps)
	fmt.Printf("  DELETE:  %d\n", snap.DeleteOps)
	fmt.Printf("  QUERY:   %d\n", snap.QueryOps)
	fmt.Printf("  CONTROL: %d\n", snap.Control)
	fmt.Printf("  TOTAL:   %d\n", totalOps+snap.Control)
	fmt.Printf("  Appends: %d\n", snap.Appends)
	fmt.Println()

	if snap.Errors > 0 || s.AppendErrors() > 0 {
		fmt.Println("Errors:")
		fmt.Printf("  Failed records: %d\n", snap.Errors)
		fmt.Printf("  Failed appends: %d\n", s.AppendErrors())
		s.mu.Lock()
		if s.lastError != "" {
			fmt.Printf("  Last error:     %s\n", s.lastError)
		}
		s.mu.Unlock()
		fmt.Println()
	}

	lat := s.Latency()
	fmt.Println("Append latency (microseconds):")
	fmt.Printf("  Min:   %d\n", lat.Min)
	fmt.Printf("  Avg:   %d\n", lat.Avg)
	fmt.Printf("  Max:   %d\n", lat.Max)
	fmt.Printf("  P50:   %d\n", lat.P50)
	fmt.Printf("  P90:   %d\n", lat.P90)
	fmt.Printf("  P95:   %d\n", lat.P95)
	fmt.Printf("  P99:   %d\n", lat.P99)
}
