package align

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"reportgrid/pkg/config"
	"reportgrid/pkg/normalize"
)

// Iterator produces the rows Align would return for the full range, in
// fixed-size chunks, fetching bounded pages per source as it goes. It is
// lazy, finite and non-restartable; Next returns io.EOF once drained.
//
// Page boundaries do not line up across sources, so the iterator keeps
// merge state keyed by bucket and only emits a bucket once every
// non-exhausted source has been paged past it.
type Iterator struct {
	aligner   *Aligner
	sourceIDs []string
	from, to  time.Time
	batchSize int
	pageSize  int

	states []*sourceState
	ready  []Row
	err    error
}

// sourceState is the per-source paging cursor and pending bucket buffer.
type sourceState struct {
	id        string
	offset    int
	exhausted bool
	buckets   map[time.Time]normalize.Value
	// highWater is the bucket of the newest sample fetched so far. Buckets
	// up to and including it are complete for this source: the reader
	// returns at most one sample per bucket, in order.
	highWater time.Time
}

// NewIterator validates the request and prepares a chunked alignment over
// [from, to]. No I/O happens until the first Next call.
func (a *Aligner) NewIterator(sourceIDs []string, from, to time.Time, batchSize int) (*Iterator, error) {
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("no sources to align: %w", ErrInvalidRequest)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size %d: %w", batchSize, ErrInvalidRequest)
	}

	states := make([]*sourceState, len(sourceIDs))
	for i, id := range sourceIDs {
		states[i] = &sourceState{id: id, buckets: make(map[time.Time]normalize.Value)}
	}
	return &Iterator{
		aligner:   a,
		sourceIDs: sourceIDs,
		from:      from,
		to:        to,
		batchSize: batchSize,
		pageSize:  config.DefaultPageSize,
		states:    states,
	}, nil
}

// Next returns the next chunk of at most batchSize rows, or io.EOF when the
// sequence is complete. A read failure ends the sequence; no partial chunk
// for the failed window is returned.
func (it *Iterator) Next(ctx context.Context) ([]Row, error) {
	if it.err != nil {
		return nil, it.err
	}

	for len(it.ready) < it.batchSize && !it.allExhausted() {
		if err := it.fetchRound(ctx); err != nil {
			it.err = err
			return nil, err
		}
		it.drain()
	}
	if it.allExhausted() {
		it.drain()
	}

	if len(it.ready) == 0 {
		it.err = io.EOF
		return nil, io.EOF
	}

	n := it.batchSize
	if n > len(it.ready) {
		n = len(it.ready)
	}
	chunk := make([]Row, n)
	copy(chunk, it.ready[:n])
	it.ready = it.ready[n:]
	return chunk, nil
}

// Chunks adapts the iterator to a channel with capacity one, so fetching
// the next chunk overlaps with the consumer processing the current one.
// The channel closes after the final chunk, or after an error chunk. A
// consumer that stops receiving early must cancel ctx, or the producer
// goroutine stays blocked on its next send.
func (it *Iterator) Chunks(ctx context.Context) <-chan Chunk {
	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		for {
			rows, err := it.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- Chunk{Rows: rows}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Chunk is one streamed batch of aligned rows, or a terminal error.
type Chunk struct {
	Rows []Row
	Err  error
}

func (it *Iterator) allExhausted() bool {
	for _, st := range it.states {
		if !st.exhausted {
			return false
		}
	}
	return true
}

// fetchRound pulls one page per non-exhausted source, concurrently. A short
// or empty page exhausts its source.
func (it *Iterator) fetchRound(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range it.states {
		if st.exhausted {
			continue
		}
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, it.aligner.readTimeout)
			defer cancel()

			page, err := it.aligner.reader.ReadPage(rctx, st.id, it.from, it.to, st.offset, it.pageSize)
			if err != nil {
				return fmt.Errorf("failed to read source %q page at offset %d: %w", st.id, st.offset, err)
			}

			for _, sm := range page {
				b := it.aligner.grid.BucketOf(sm.Timestamp)
				st.buckets[b] = sm.Value
				if b.After(st.highWater) {
					st.highWater = b
				}
			}
			st.offset += len(page)
			if len(page) < it.pageSize {
				st.exhausted = true
			}
			return nil
		})
	}
	return g.Wait()
}

// drain moves complete buckets from the per-source buffers into the ready
// row list. The frontier is the minimum high-water bucket across sources
// that can still produce data; once every source is exhausted, everything
// left is complete.
func (it *Iterator) drain() {
	var frontier time.Time
	bounded := false
	for _, st := range it.states {
		if st.exhausted {
			continue
		}
		if !bounded || st.highWater.Before(frontier) {
			frontier = st.highWater
			bounded = true
		}
	}

	union := make(map[time.Time]struct{})
	for _, st := range it.states {
		for b := range st.buckets {
			if bounded && b.After(frontier) {
				continue
			}
			union[b] = struct{}{}
		}
	}
	if len(union) == 0 {
		return
	}

	keys := make([]time.Time, 0, len(union))
	for b := range union {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	perSource := make([]map[time.Time]normalize.Value, len(it.states))
	for i, st := range it.states {
		perSource[i] = st.buckets
	}
	for _, b := range keys {
		it.ready = append(it.ready, buildRow(b, it.sourceIDs, perSource))
		for _, st := range it.states {
			delete(st.buckets, b)
		}
	}
}
