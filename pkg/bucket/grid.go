// Package bucket defines the fixed-width time grid every source is aligned
// onto. Bucket assignment is a pure function of the timestamp and the grid
// configuration; it is identical across sources.
package bucket

import (
	"fmt"
	"time"

	"reportgrid/pkg/config"
)

// Grid is an immutable bucket grid: a fixed width anchored to an epoch.
// A timestamp t belongs to the bucket starting at
// epoch + floor((t-epoch)/width)*width.
type Grid struct {
	width time.Duration
	epoch time.Time
}

// NewGrid builds a grid with the given width and anchor epoch.
func NewGrid(width time.Duration, epoch time.Time) (Grid, error) {
	if width <= 0 {
		return Grid{}, fmt.Errorf("bucket width must be positive, got %v", width)
	}
	return Grid{width: width, epoch: epoch.UTC()}, nil
}

// Default returns the standard 10-minute grid anchored at 1900-01-01 UTC.
func Default() Grid {
	return Grid{width: config.DefaultBucketWidth, epoch: config.DefaultEpoch}
}

// Width returns the bucket width.
func (g Grid) Width() time.Duration { return g.width }

// Epoch returns the anchor epoch.
func (g Grid) Epoch() time.Time { return g.epoch }

// BucketOf returns the start of the bucket containing t. Total for any
// timestamp, including those before the epoch.
func (g Grid) BucketOf(t time.Time) time.Time {
	d := t.Sub(g.epoch)
	n := d / g.width
	// Go integer division truncates toward zero; floor for pre-epoch times.
	if d < 0 && d%g.width != 0 {
		n--
	}
	return g.epoch.Add(n * g.width)
}

// Fingerprint identifies the grid configuration. Materialized grids built
// under a different fingerprint are stale.
func (g Grid) Fingerprint() string {
	return g.width.String() + "@" + g.epoch.Format(time.RFC3339Nano)
}
