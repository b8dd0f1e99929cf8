// Package align merges N independently-timestamped sources onto the shared
// bucket grid: the equivalent of a full outer join keyed on the bucket
// start, with gaps filled by an explicit no-data marker.
package align

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"reportgrid/pkg/bucket"
	"reportgrid/pkg/config"
	"reportgrid/pkg/normalize"
	"reportgrid/pkg/source"
)

// ErrInvalidRequest is returned for requests rejected before any I/O: an
// empty source set, an inverted time range or a non-positive batch size.
var ErrInvalidRequest = errors.New("invalid request")

// Row is one aligned output row: a bucket start plus exactly one normalized
// value (or the absence marker) per requested source. Rows are built once
// and never mutated after being returned.
type Row struct {
	Bucket time.Time                  `json:"bucket"`
	Values map[string]normalize.Value `json:"values"`
}

// Aligner drives source reads and merges them into aligned rows.
type Aligner struct {
	reader      source.Reader
	grid        bucket.Grid
	readTimeout time.Duration
}

// New creates an aligner over a reader and grid with the default per-source
// read timeout.
func New(reader source.Reader, grid bucket.Grid) *Aligner {
	return &Aligner{
		reader:      reader,
		grid:        grid,
		readTimeout: config.SourceReadTimeout,
	}
}

// WithReadTimeout overrides the per-source read timeout.
func (a *Aligner) WithReadTimeout(d time.Duration) *Aligner {
	if d > 0 {
		a.readTimeout = d
	}
	return a
}

// Grid returns the grid the aligner buckets against.
func (a *Aligner) Grid() bucket.Grid { return a.grid }

// Align produces the aligned rows for the given sources over [from, to],
// ordered by bucket ascending. Reads fan out concurrently, one per source,
// and the merge waits for all of them: a failed or timed-out source fails
// the whole alignment rather than dropping a column.
func (a *Aligner) Align(ctx context.Context, sourceIDs []string, from, to time.Time) ([]Row, error) {
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("no sources to align: %w", ErrInvalidRequest)
	}

	perSource := make([]map[time.Time]normalize.Value, len(sourceIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range sourceIDs {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, a.readTimeout)
			defer cancel()

			samples, err := a.reader.Read(rctx, id, from, to)
			if err != nil {
				return fmt.Errorf("failed to read source %q: %w", id, err)
			}

			byBucket := make(map[time.Time]normalize.Value, len(samples))
			for _, sm := range samples {
				byBucket[a.grid.BucketOf(sm.Timestamp)] = sm.Value
			}
			perSource[i] = byBucket
			return nil
		})
	}
	// Join barrier: no rows are produced until every source has answered.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeRows(sourceIDs, perSource), nil
}

// mergeRows builds the aligned rows from per-source bucket maps: the union
// of bucket keys in ascending order, one entry per source per row.
func mergeRows(sourceIDs []string, perSource []map[time.Time]normalize.Value) []Row {
	union := make(map[time.Time]struct{})
	for _, byBucket := range perSource {
		for b := range byBucket {
			union[b] = struct{}{}
		}
	}

	keys := make([]time.Time, 0, len(union))
	for b := range union {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	rows := make([]Row, 0, len(keys))
	for _, b := range keys {
		rows = append(rows, buildRow(b, sourceIDs, perSource))
	}
	return rows
}

// buildRow assembles one immutable row for a bucket.
func buildRow(b time.Time, sourceIDs []string, perSource []map[time.Time]normalize.Value) Row {
	values := make(map[string]normalize.Value, len(sourceIDs))
	for i, id := range sourceIDs {
		v, ok := perSource[i][b]
		if !ok {
			values[id] = normalize.NoData()
			continue
		}
		values[id] = normalize.Normalize(v)
	}
	return Row{Bucket: b, Values: values}
}
