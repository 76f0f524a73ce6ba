// Package journal is a Pebble-backed append-only log of raw binlog records.
// Each reader tracks its own persisted cursor; entries below the slowest
// cursor are deleted in the background.
package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/maxpert/burrow/encoding"
	"github.com/maxpert/burrow/telemetry"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixEntry  = "/journal/" // /journal/{8-byte big-endian position}
	prefixCursor = "/cursor/"  // /cursor/{readerName}
	keyNextPos   = "/nextpos"  // /nextpos -> uint64 (last assigned position)
)

// Pebble configuration constants
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

// Read and cleanup constants
const (
	defaultReadLimit    = 100  // Default limit for ReadFrom
	cleanupIntervalMask = 0x7F // Cleanup every 128 positions (pos & cleanupIntervalMask == 0)
)

// ErrClosed is returned by every operation on a closed journal.
var ErrClosed = errors.New("journal is closed")

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// envelope is the stored value of one journal entry.
type envelope struct {
	Source string `msgpack:"src"`
	Record []byte `msgpack:"rec"` // zstd compressed
}

// Entry is one raw record read back from the journal.
type Entry struct {
	Position uint64
	Source   string
	Record   []byte
}

// Journal provides a Pebble-backed append-only log of raw records
type Journal struct {
	db   *pebble.DB
	path string

	// In-memory cursor map for fast lookups
	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	appendMu sync.Mutex
	lastPos  atomic.Uint64

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// Open creates or opens a journal stored at path
func Open(path string) (*Journal, error) {
	opts := &pebble.Options{
		// Optimize for sequential writes
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}

	j := &Journal{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	if err := j.loadLastPos(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load journal position: %w", err)
	}
	if err := j.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	log.Info().Str("path", path).Uint64("last_position", j.lastPos.Load()).Msg("Opened journal")
	return j, nil
}

func (j *Journal) loadLastPos() error {
	val, closer, err := j.db.Get([]byte(keyNextPos))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid position value length: %d", len(val))
	}
	j.lastPos.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (j *Journal) loadCursors() error {
	prefix := []byte(prefixCursor)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for reader %s: invalid length %d", name, len(val))
		}
		j.cursors[name] = binary.LittleEndian.Uint64(val)
	}

	if err := iter.Error(); err != nil {
		return err
	}
	if len(j.cursors) > 0 {
		log.Info().Int("cursors", len(j.cursors)).Msg("Loaded journal cursors")
	}
	return nil
}

// Append stores raw records from source and returns the position of the
// last one. Positions are assigned in order, starting at 1.
func (j *Journal) Append(source string, records ...[]byte) (uint64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}
	if len(records) == 0 {
		return j.lastPos.Load(), nil
	}

	j.appendMu.Lock()
	defer j.appendMu.Unlock()

	pos := j.lastPos.Load()

	batch := j.db.NewBatch()
	defer batch.Close()

	for _, rec := range records {
		pos++
		val, err := encoding.Marshal(&envelope{
			Source: source,
			Record: zstdEncoder.EncodeAll(rec, nil),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal journal entry: %w", err)
		}
		if err := batch.Set(entryKey(pos), val, nil); err != nil {
			return 0, fmt.Errorf("failed to write journal entry: %w", err)
		}
	}

	posBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(posBuf, pos)
	if err := batch.Set([]byte(keyNextPos), posBuf, nil); err != nil {
		return 0, fmt.Errorf("failed to update position: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	// Only publish the position after a successful commit
	j.lastPos.Store(pos)
	telemetry.JournalAppendedTotal.Add(float64(len(records)))
	return pos, nil
}

// LastPosition returns the position of the most recent entry
func (j *Journal) LastPosition() uint64 {
	return j.lastPos.Load()
}

// ReadFrom reads entries after cursor, up to limit entries
func (j *Journal) ReadFrom(cursor uint64, limit int) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	// cursor is the last processed position
	start := entryKey(cursor + 1)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixEntry)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	for iter.SeekGE(start); iter.Valid() && len(entries) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		pos := binary.BigEndian.Uint64(iter.Key()[len(prefixEntry):])
		var env envelope
		if err := encoding.Unmarshal(val, &env); err != nil {
			log.Warn().Err(err).Uint64("position", pos).Msg("Failed to unmarshal journal entry")
			continue
		}
		rec, err := zstdDecoder.DecodeAll(env.Record, nil)
		if err != nil {
			log.Warn().Err(err).Uint64("position", pos).Msg("Failed to decompress journal entry")
			continue
		}

		entries = append(entries, Entry{Position: pos, Source: env.Source, Record: rec})
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetCursor returns the cursor of a reader; 0 for a reader never seen.
func (j *Journal) GetCursor(name string) (uint64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}

	j.cursorsMu.RLock()
	defer j.cursorsMu.RUnlock()
	return j.cursors[name], nil
}

// AdvanceCursor persists a reader's cursor and triggers cleanup periodically
func (j *Journal) AdvanceCursor(name string, pos uint64) error {
	if j.closed.Load() {
		return ErrClosed
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, pos)
	if err := j.db.Set([]byte(prefixCursor+name), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	j.cursorsMu.Lock()
	j.cursors[name] = pos
	j.cursorsMu.Unlock()

	if pos&cleanupIntervalMask == 0 {
		// Only spawn cleanup if one isn't already running
		if j.cleanupRunning.CompareAndSwap(false, true) {
			j.cleanupWg.Add(1)
			go j.cleanupAsync()
		}
	}
	return nil
}

// cleanup deletes entries at or below the minimum cursor.
func (j *Journal) cleanup() {
	j.cleanupMu.Lock()
	defer j.cleanupMu.Unlock()

	if j.closed.Load() {
		return
	}

	j.cursorsMu.RLock()
	if len(j.cursors) == 0 {
		j.cursorsMu.RUnlock()
		return
	}
	minCursor := ^uint64(0)
	for _, c := range j.cursors {
		minCursor = min(minCursor, c)
	}
	j.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	// Every reader has consumed minCursor itself, so it goes too.
	if err := j.db.DeleteRange([]byte(prefixEntry), entryKey(minCursor+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to clean up journal")
		return
	}

	telemetry.JournalCleanedTotal.Inc()
	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up journal entries")
}

func (j *Journal) cleanupAsync() {
	defer j.cleanupWg.Done()
	defer j.cleanupRunning.Store(false)
	j.cleanup()
}

// Close waits for in-flight cleanup and closes the Pebble database
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	j.cleanupWg.Wait()
	return j.db.Close()
}

// Checkpoint writes a consistent, openable copy of the journal to dir,
// which must not exist yet.
func (j *Journal) Checkpoint(dir string) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if err := j.db.Checkpoint(dir, pebble.WithFlushedWAL()); err != nil {
		return fmt.Errorf("checkpoint %s: %w", dir, err)
	}
	return nil
}

// CheckCursor verifies that the named reader's cursor does not point past
// the last entry and that the next unread entry still decodes.
func (j *Journal) CheckCursor(name string) error {
	cursor, err := j.GetCursor(name)
	if err != nil {
		return err
	}
	if last := j.LastPosition(); cursor > last {
		return fmt.Errorf("reader %s: cursor %d beyond last position %d", name, cursor, last)
	}
	if _, err := j.ReadFrom(cursor, 1); err != nil {
		return fmt.Errorf("reader %s: entry after cursor %d: %w", name, cursor, err)
	}
	return nil
}

// entryKey builds /journal/{position}; the position is big-endian encoded
// so keys sort numerically.
func entryKey(pos uint64) []byte {
	key := make([]byte, len(prefixEntry)+8)
	copy(key, prefixEntry)
	binary.BigEndian.PutUint64(key[len(prefixEntry):], pos)
	return key
}

// prefixUpperBound bumps the trailing '/' of a key prefix to '0', the next
// byte, which bounds every key under the prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	end[len(end)-1]++
	return end
}
