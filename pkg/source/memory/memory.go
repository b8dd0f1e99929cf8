// Package memory provides an in-memory source store. Data is lost on
// restart; useful for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reportgrid/pkg/bucket"
	"reportgrid/pkg/source"
)

// Store keeps raw samples per source in memory and serves them with the
// per-bucket latest-wins dedup the Reader contract requires.
type Store struct {
	grid    bucket.Grid
	mu      sync.RWMutex
	samples map[string][]source.Sample
}

// New creates an in-memory source store aligned to the given grid.
func New(grid bucket.Grid) *Store {
	return &Store{
		grid:    grid,
		samples: make(map[string][]source.Sample),
	}
}

// Register makes a source known without writing any samples. A registered
// empty source reads as an empty sequence, not as unavailable.
func (s *Store) Register(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[sourceID]; !ok {
		s.samples[sourceID] = nil
	}
}

// Write appends raw samples to a source, creating it if needed.
func (s *Store) Write(sourceID string, samples ...source.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sourceID] = append(s.samples[sourceID], samples...)
}

// Read returns the deduplicated samples for a source in [from, to].
func (s *Store) Read(ctx context.Context, sourceID string, from, to time.Time) ([]source.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.collect(sourceID, from, to)
}

// ReadPage returns a bounded page of the sequence Read would return.
func (s *Store) ReadPage(ctx context.Context, sourceID string, from, to time.Time, offset, limit int) ([]source.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.collect(sourceID, from, to)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	page := make([]source.Sample, end-offset)
	copy(page, all[offset:])
	return page, nil
}

// Aggregate computes raw min/max/sum/count over the numeric readings in
// range. Dedup does not apply here: statistics run over raw samples.
func (s *Store) Aggregate(ctx context.Context, sourceID string, from, to time.Time) (source.Aggregate, bool, error) {
	if err := ctx.Err(); err != nil {
		return source.Aggregate{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.samples[sourceID]
	if !ok {
		return source.Aggregate{}, false, fmt.Errorf("source %q: %w", sourceID, source.ErrUnavailable)
	}

	var agg source.Aggregate
	for _, sm := range raw {
		if sm.Timestamp.Before(from) || sm.Timestamp.After(to) {
			continue
		}
		f, numeric := sm.Value.Numeric()
		if !numeric {
			continue
		}
		if agg.Count == 0 || f < agg.Min {
			agg.Min = f
		}
		if agg.Count == 0 || f > agg.Max {
			agg.Max = f
		}
		agg.Sum += f
		agg.Count++
	}
	return agg, agg.Count > 0, nil
}

// collect filters the closed-closed range, keeps the latest sample per grid
// bucket and returns the survivors in ascending timestamp order.
func (s *Store) collect(sourceID string, from, to time.Time) ([]source.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.samples[sourceID]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", sourceID, source.ErrUnavailable)
	}

	latest := make(map[time.Time]source.Sample)
	for _, sm := range raw {
		if sm.Timestamp.Before(from) || sm.Timestamp.After(to) {
			continue
		}
		b := s.grid.BucketOf(sm.Timestamp)
		if prev, seen := latest[b]; !seen || sm.Timestamp.After(prev.Timestamp) {
			latest[b] = sm
		}
	}

	out := make([]source.Sample, 0, len(latest))
	for _, sm := range latest {
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
