package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/journal"
)

// Worker writes the records of one source into the journal. Seqnos are
// per source, so each worker owns its counter.
type Worker struct {
	id             int
	source         string
	journal        *journal.Journal
	tables         []*binlog.TableMap
	keyGen         *KeyGenerator
	opSelector     *OpSelector
	stats          *Stats
	batchSize      int
	heartbeatEvery int
	rng            *rand.Rand

	enc      binlog.Encoder
	seqno    uint64
	ops      int
	batch    [][]byte
	batchOps []OpType
}

// NewWorker creates a new worker. The first record it writes gets lastSeqno+1.
func NewWorker(id int, j *journal.Journal, source string, lastSeqno uint64, tables []*binlog.TableMap, keyGen *KeyGenerator, opSelector *OpSelector, stats *Stats, batchSize, heartbeatEvery int) *Worker {
	return &Worker{
		id:             id,
		source:         source,
		journal:        j,
		tables:         tables,
		keyGen:         keyGen,
		opSelector:     opSelector,
		stats:          stats,
		batchSize:      batchSize,
		heartbeatEvery: heartbeatEvery,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		seqno:          lastSeqno,
	}
}

// RunLoad appends count insert records.
func (w *Worker) RunLoad(ctx context.Context, count int, wg *sync.WaitGroup) {
	defer wg.Done()

	if err := w.announce(); err != nil {
		return
	}

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			w.flush()
			return
		default:
		}
		w.add(w.generateOp(OpInsert))
	}
	w.flush()
}

// RunBenchmark appends one operation per tick received on opsChan.
func (w *Worker) RunBenchmark(ctx context.Context, opsChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	if err := w.announce(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case _, ok := <-opsChan:
			if !ok {
				w.flush()
				return
			}
			w.add(w.generateOp(w.opSelector.Select()))
		}
	}
}

// announce writes the table maps. Rows records refer to tables by id only,
// so readers need these first.
func (w *Worker) announce() error {
	now := time.Now()
	records := make([][]byte, 0, len(w.tables))
	for _, tm := range w.tables {
		w.seqno++
		rec, err := w.enc.TableMap(w.seqno, now, tm)
		if err != nil {
			w.stats.RecordAppendError(err)
			return err
		}
		records = append(records, rec)
	}

	if _, err := w.journal.Append(w.source, records...); err != nil {
		w.stats.RecordAppendError(err)
		return fmt.Errorf("worker %d: announce tables: %w", w.id, err)
	}
	w.stats.RecordControl(len(records))
	return nil
}

func (w *Worker) generateOp(opType OpType) Operation {
	op := Operation{Type: opType, Table: w.rng.Intn(len(w.tables))}

	switch opType {
	case OpInsert:
		op.Key = w.keyGen.NextInsertKey()
		op.After = generateRow(w.rng, op.Key)
	case OpUpdate, OpDelete:
		op.Key = w.keyGen.RandomExistingKey(w.rng)
		if op.Key == 0 {
			// Nothing inserted yet.
			return w.generateOp(OpInsert)
		}
		op.Before = generateRow(w.rng, op.Key)
		if opType == OpUpdate {
			op.After = generateRow(w.rng, op.Key)
		}
	}

	return op
}

func (w *Worker) add(op Operation) {
	w.seqno++
	rec, err := EncodeOp(w.enc, w.seqno, time.Now(), w.tables[op.Table], op)
	if err != nil {
		// The seqno is burned; readers tolerate gaps.
		w.stats.RecordError(op.Type)
		return
	}
	w.batch = append(w.batch, rec)
	w.batchOps = append(w.batchOps, op.Type)
	w.ops++

	if w.heartbeatEvery > 0 && w.ops%w.heartbeatEvery == 0 {
		w.seqno++
		w.batch = append(w.batch, w.enc.Heartbeat(w.seqno, time.Now()))
		w.batchOps = append(w.batchOps, -1)
	}

	if len(w.batch) >= w.batchSize {
		w.flush()
	}
}

func (w *Worker) flush() {
	if len(w.batch) == 0 {
		return
	}

	start := time.Now()
	_, err := w.journal.Append(w.source, w.batch...)
	latency := time.Since(start)

	for _, t := range w.batchOps {
		switch {
		case t < 0:
			if err == nil {
				w.stats.RecordControl(1)
			}
		case err != nil:
			w.stats.RecordError(t)
		default:
			w.stats.RecordOp(t)
		}
	}
	if err != nil {
		w.stats.RecordAppendError(err)
	} else {
		w.stats.RecordAppend(latency)
	}

	w.batch = w.batch[:0]
	w.batchOps = w.batchOps[:0]
}

// openTarget opens the journal and reads where each source left off.
func openTarget(cfg *Config) (*journal.Journal, *JournalScan, error) {
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}

	scan, err := ScanJournal(context.Background(), j, nil)
	if err != nil {
		j.Close()
		return nil, nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return j, scan, nil
}

// executeLoad runs the load phase.
func executeLoad(ctx context.Context, cfg *Config) error {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            Pika Load Phase                           ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Journal:     %s\n", cfg.JournalPath)
	fmt.Printf("Tables:      %s.%s_[0..%d]\n", cfg.Schema, cfg.Table, cfg.Tables-1)
	fmt.Printf("Records:     %d\n", cfg.Records)
	fmt.Printf("Sources:     %d\n", cfg.Threads)
	fmt.Printf("BatchSize:   %d\n", cfg.BatchSize)
	fmt.Println()

	j, scan, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	existingRows := scan.Count(binlog.RecordWriteRows)
	fmt.Printf("Existing inserts: %d (starting from key %d)\n", existingRows, existingRows+1)

	stats := NewStats()
	keyGen := NewKeyGenerator(existingRows)
	tables := tableMaps(cfg.Schema, cfg.Table, cfg.Tables)

	recordsPerWorker := cfg.Records / cfg.Threads
	remainder := cfg.Records % cfg.Threads

	var wg sync.WaitGroup
	start := time.Now()

	fmt.Printf("Loading %d records from %d sources...\n", cfg.Records, cfg.Threads)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	go reportProgress(reporterCtx, stats)

	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		count := recordsPerWorker
		if i == cfg.Threads-1 {
			count += remainder
		}

		source := cfg.SourceID(i)
		opSelector := NewOpSelector(WorkloadDistribution{Insert: 100}, time.Now().UnixNano()+int64(i))
		worker := NewWorker(i, j, source, scan.LastSeqno(source), tables, keyGen, opSelector, stats, cfg.BatchSize, cfg.HeartbeatEvery)
		go worker.RunLoad(ctx, count, &wg)
	}

	wg.Wait()
	stopReporter()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("                    LOAD COMPLETE                      ")
	fmt.Println("═══════════════════════════════════════════════════════")
	stats.PrintFinal(elapsed)

	if n := stats.AppendErrors(); n > 0 {
		return fmt.Errorf("%d journal appends failed", n)
	}
	return nil
}

// executeRun runs the workload phase.
func executeRun(ctx context.Context, cfg *Config) error {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            Pika Workload Phase                       ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	dist := cfg.GetWorkloadDistribution()
	if err := dist.Validate(); err != nil {
		return err
	}

	fmt.Printf("Journal:     %s\n", cfg.JournalPath)
	fmt.Printf("Tables:      %s.%s_[0..%d]\n", cfg.Schema, cfg.Table, cfg.Tables-1)
	fmt.Printf("Workload:    %s\n", cfg.Workload)
	fmt.Printf("Distribution: I:%d%% U:%d%% D:%d%% Q:%d%%\n",
		dist.Insert, dist.Update, dist.Delete, dist.Query)
	fmt.Printf("Operations:  %d\n", cfg.Operations)
	if cfg.Duration > 0 {
		fmt.Printf("Duration:    %s\n", cfg.Duration)
	}
	fmt.Printf("Sources:     %d\n", cfg.Threads)
	fmt.Printf("BatchSize:   %d\n", cfg.BatchSize)
	fmt.Println()

	j, scan, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	existingRows := scan.Count(binlog.RecordWriteRows)
	fmt.Printf("Existing inserts: %d\n\n", existingRows)

	stats := NewStats()
	keyGen := NewKeyGenerator(existingRows)
	tables := tableMaps(cfg.Schema, cfg.Table, cfg.Tables)

	opsChan := make(chan struct{}, cfg.Threads*10)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		source := cfg.SourceID(i)
		opSelector := NewOpSelector(dist, time.Now().UnixNano()+int64(i))
		worker := NewWorker(i, j, source, scan.LastSeqno(source), tables, keyGen, opSelector, stats, cfg.BatchSize, cfg.HeartbeatEvery)
		go worker.RunBenchmark(ctx, opsChan, &wg)
	}

	reporterCtx, stopReporter := context.WithCancel(ctx)
	go reportProgress(reporterCtx, stats)

	if cfg.Duration > 0 {
		deadline := time.After(cfg.Duration)
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-deadline:
				break loop
			case opsChan <- struct{}{}:
			}
		}
	} else {
	opsLoop:
		for i := 0; i < cfg.Operations; i++ {
			select {
			case <-ctx.Done():
				break opsLoop
			case opsChan <- struct{}{}:
			}
		}
	}

	close(opsChan)
	wg.Wait()
	stopReporter()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("                  WORKLOAD COMPLETE                    ")
	fmt.Println("═══════════════════════════════════════════════════════")
	stats.PrintFinal(elapsed)

	if n := stats.AppendErrors(); n > 0 {
		return fmt.Errorf("%d journal appends failed", n)
	}
	return nil
}
