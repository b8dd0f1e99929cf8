// Package materialize precomputes aligned grids into BadgerDB so repeated
// reports over overlapping ranges skip live alignment. Each materialized
// grid is keyed by its source set and grid configuration; any change to
// either makes the previous generation stale, and staleness is always
// reported, never served silently.
package materialize

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"

	"reportgrid/pkg/align"
	"reportgrid/pkg/bucket"
)

var (
	// ErrStaleHandle is returned when a handle's generation has been
	// invalidated or rebuilt since it was issued.
	ErrStaleHandle = errors.New("materialized grid is stale")

	// ErrRangeNotCovered is returned when a handle is asked for a range it
	// cannot serve exactly: outside the build range, or cutting through a
	// bucket in a way whole-bucket rows cannot reproduce.
	ErrRangeNotCovered = errors.New("range not covered by materialized grid")
)

// Config holds the manager's storage settings.
type Config struct {
	// Path to the Badger directory.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// Manager owns the materialized grid store. Rebuilds follow a single-writer
// discipline per grid key: a new generation is written completely before
// the handle is swapped, so readers never observe a half-built grid.
type Manager struct {
	db      *badger.DB
	grid    bucket.Grid
	aligner *align.Aligner

	mu      sync.RWMutex
	handles map[uint64]*Handle
	gen     atomic.Uint64
}

// Handle is a read view over one materialized generation.
type Handle struct {
	mgr      *Manager
	key      uint64
	gen      uint64
	sources  []string
	from, to time.Time
	stale    atomic.Bool
}

// New opens the materialization store.
func New(cfg Config, aligner *align.Aligner) (*Manager, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	// Aligned rows are small JSON blobs; keep them in the LSM tree.
	opts = opts.
		WithNumVersionsToKeep(1).
		WithValueThreshold(1024)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open materialization store: %w", err)
	}
	return &Manager{
		db:      db,
		grid:    aligner.Grid(),
		aligner: aligner,
		handles: make(map[uint64]*Handle),
	}, nil
}

// Close shuts the store down.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Ensure returns a handle covering [from, to] for the given source set,
// building or rebuilding the materialized grid if no current handle covers
// the request.
func (m *Manager) Ensure(ctx context.Context, sourceIDs []string, from, to time.Time) (*Handle, error) {
	key := gridKey(sourceIDs, m.grid)

	m.mu.RLock()
	h := m.handles[key]
	m.mu.RUnlock()
	if h != nil && !h.stale.Load() && h.covers(from, to) {
		return h, nil
	}

	rows, err := m.aligner.Align(ctx, sourceIDs, from, to)
	if err != nil {
		return nil, err
	}

	gen := m.gen.Add(1)
	if err := m.writeGeneration(ctx, key, gen, rows); err != nil {
		return nil, err
	}

	next := &Handle{
		mgr:     m,
		key:     key,
		gen:     gen,
		sources: append([]string(nil), sourceIDs...),
		from:    from,
		to:      to,
	}

	// Atomic swap: the old generation is only marked stale once the new
	// one is fully written.
	m.mu.Lock()
	prev := m.handles[key]
	m.handles[key] = next
	m.mu.Unlock()

	if prev != nil {
		prev.stale.Store(true)
		if err := m.dropGeneration(prev.key, prev.gen); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Lookup returns the current handle for a source set if one covers the
// requested range, without building anything.
func (m *Manager) Lookup(sourceIDs []string, from, to time.Time) (*Handle, bool) {
	key := gridKey(sourceIDs, m.grid)

	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.handles[key]
	if h == nil || h.stale.Load() || !h.covers(from, to) {
		return nil, false
	}
	return h, true
}

// Invalidate marks the current generation for a source set stale and drops
// its rows. Callers use it when the underlying tables change out of band.
func (m *Manager) Invalidate(sourceIDs []string) error {
	key := gridKey(sourceIDs, m.grid)

	m.mu.Lock()
	h := m.handles[key]
	delete(m.handles, key)
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	h.stale.Store(true)
	return m.dropGeneration(h.key, h.gen)
}

// Sources returns the source set the handle was built for.
func (h *Handle) Sources() []string {
	return append([]string(nil), h.sources...)
}

// Stale reports whether the handle has been invalidated or superseded.
func (h *Handle) Stale() bool { return h.stale.Load() }

// covers reports whether the handle can serve [from, to] with exactly the
// rows a live alignment would produce. Stored rows are whole-bucket: they
// cannot be re-filtered by raw sample timestamp, so a request whose bound
// cuts through a bucket could pick up a sample the live path would exclude.
// Only the build's own range, or a suffix of it starting on a bucket
// boundary, is served; everything else falls back to live alignment.
func (h *Handle) covers(from, to time.Time) bool {
	if !to.Equal(h.to) {
		return false
	}
	if from.Equal(h.from) {
		return true
	}
	return h.mgr.grid.BucketOf(from).Equal(from) && !from.Before(h.from)
}

// Rows reads the materialized rows for [from, to] back from the store,
// ordered by bucket ascending. Only the build range itself, or a suffix of
// it starting on a bucket boundary, can be served; other sub-ranges return
// ErrRangeNotCovered.
func (h *Handle) Rows(ctx context.Context, from, to time.Time) ([]align.Row, error) {
	if h.stale.Load() {
		return nil, fmt.Errorf("grid %x gen %d: %w", h.key, h.gen, ErrStaleHandle)
	}
	if !h.covers(from, to) {
		return nil, fmt.Errorf("grid %x gen %d: %w", h.key, h.gen, ErrRangeNotCovered)
	}

	grid := h.mgr.grid
	fromBucket := grid.BucketOf(from)
	toBucket := grid.BucketOf(to)

	var rows []align.Row
	err := h.mgr.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = genPrefix(h.key, h.gen)

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(rowKey(h.key, h.gen, grid, fromBucket)); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			var row align.Row
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("failed to decode materialized row: %w", err)
			}
			if row.Bucket.After(toBucket) {
				break
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Re-check after the read so a rebuild racing this call cannot hand
	// back rows from a dropped generation as current.
	if h.stale.Load() {
		return nil, fmt.Errorf("grid %x gen %d: %w", h.key, h.gen, ErrStaleHandle)
	}
	return rows, nil
}

// writeGeneration persists all rows of one generation.
func (m *Manager) writeGeneration(ctx context.Context, key, gen uint64, rows []align.Row) error {
	wb := m.db.NewWriteBatch()
	defer wb.Cancel()

	for i, row := range rows {
		if i%100 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		val, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode materialized row: %w", err)
		}
		if err := wb.Set(rowKey(key, gen, m.grid, row.Bucket), val); err != nil {
			return fmt.Errorf("failed to write materialized row: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush materialized grid: %w", err)
	}
	return nil
}

func (m *Manager) dropGeneration(key, gen uint64) error {
	if err := m.db.DropPrefix(genPrefix(key, gen)); err != nil {
		return fmt.Errorf("failed to drop materialized generation: %w", err)
	}
	return nil
}

// gridKey identifies a (source set, grid configuration) pair. The source
// ids are hashed sorted, so the key captures set identity, and the grid
// fingerprint makes a width or epoch change a different key entirely.
func gridKey(sourceIDs []string, grid bucket.Grid) uint64 {
	sorted := append([]string(nil), sourceIDs...)
	sort.Strings(sorted)

	h := xxhash.New()
	for _, id := range sorted {
		_, _ = h.WriteString(id)
		_, _ = h.WriteString("\x00")
	}
	_, _ = h.WriteString(grid.Fingerprint())
	return h.Sum64()
}

// genPrefix is the key prefix of one generation:
// [grid_key (8 bytes)][generation (8 bytes)]
func genPrefix(key, gen uint64) []byte {
	p := make([]byte, 16)
	binary.BigEndian.PutUint64(p[0:8], key)
	binary.BigEndian.PutUint64(p[8:16], gen)
	return p
}

// rowKey appends the bucket offset from the grid epoch, big-endian so keys
// sort by bucket:
// [grid_key (8 bytes)][generation (8 bytes)][bucket offset ms (8 bytes)]
func rowKey(key, gen uint64, grid bucket.Grid, b time.Time) []byte {
	k := make([]byte, 24)
	copy(k, genPrefix(key, gen))
	// The sign bit is flipped so pre-epoch offsets still sort below
	// positive ones.
	off := b.UnixMilli() - grid.Epoch().UnixMilli()
	binary.BigEndian.PutUint64(k[16:24], uint64(off)^(1<<63))
	return k
}
