// Package source defines the read contract for time-stamped readings.
// Implementations: memory (testing), sqlstore (one SQL table per source).
package source

import (
	"context"
	"errors"
	"time"

	"reportgrid/pkg/normalize"
)

// ErrUnavailable is returned when a source identifier does not correspond to
// a known source. A report cannot silently omit a requested parameter, so
// this is fatal for the whole request.
var ErrUnavailable = errors.New("source unavailable")

// Sample is one reading from one source. The timestamp is the raw recording
// time, not a bucket key.
type Sample struct {
	Timestamp time.Time
	Value     normalize.Value
}

// Reader fetches readings for a single source within a closed-closed time
// range, ordered by timestamp ascending.
//
// Readers own per-bucket tie-breaking: when several raw readings fall into
// the same grid bucket, only the latest one is returned. The aligner is a
// pure merge and relies on at most one sample per bucket per source.
type Reader interface {
	// Read returns all samples in [from, to].
	Read(ctx context.Context, sourceID string, from, to time.Time) ([]Sample, error)

	// ReadPage returns a bounded page of the same sequence Read would
	// return, skipping offset samples and returning at most limit.
	ReadPage(ctx context.Context, sourceID string, from, to time.Time, offset, limit int) ([]Sample, error)
}

// Aggregate holds raw (unrounded) scalar aggregates over one source's
// numeric readings in a range.
type Aggregate struct {
	Min   float64
	Max   float64
	Sum   float64
	Count int64
}

// Aggregator is an optional Reader capability: stores that can push
// min/max/avg down to the backing engine implement it so statistics never
// need the aligned grid.
type Aggregator interface {
	// Aggregate returns the raw aggregates for a source in [from, to].
	// ok is false when the source has no numeric samples in range.
	Aggregate(ctx context.Context, sourceID string, from, to time.Time) (agg Aggregate, ok bool, err error)
}
