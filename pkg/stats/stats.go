// Package stats computes per-source min/max/average summaries. Summaries
// are scalar aggregates over raw readings; they never depend on the aligned
// grid.
package stats

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"reportgrid/pkg/align"
	"reportgrid/pkg/config"
	"reportgrid/pkg/normalize"
	"reportgrid/pkg/source"
)

// Summary holds the rounded aggregates for one source. Rounding happens
// once, after aggregation: the average of raw values is rounded half-up to
// one decimal, not an average of rounded values.
type Summary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Summarizer computes summaries straight from the source reader, pushing
// the aggregation down when the reader supports it.
type Summarizer struct {
	reader      source.Reader
	readTimeout time.Duration
}

// New creates a summarizer over a reader.
func New(reader source.Reader) *Summarizer {
	return &Summarizer{reader: reader, readTimeout: config.SourceReadTimeout}
}

// WithReadTimeout overrides the per-source read timeout.
func (s *Summarizer) WithReadTimeout(d time.Duration) *Summarizer {
	if d > 0 {
		s.readTimeout = d
	}
	return s
}

// Summarize returns a summary per source over [from, to]. Sources with no
// numeric samples in range are omitted, not reported as zero. Any source
// failure fails the whole call.
func (s *Summarizer) Summarize(ctx context.Context, sourceIDs []string, from, to time.Time) (map[string]Summary, error) {
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("no sources to summarize: %w", align.ErrInvalidRequest)
	}

	results := make([]*Summary, len(sourceIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range sourceIDs {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, s.readTimeout)
			defer cancel()

			agg, ok, err := s.aggregate(rctx, id, from, to)
			if err != nil {
				return fmt.Errorf("failed to summarize source %q: %w", id, err)
			}
			if !ok {
				return nil
			}
			results[i] = &Summary{
				Min: normalize.Round1(agg.Min),
				Max: normalize.Round1(agg.Max),
				Avg: normalize.Round1(agg.Sum / float64(agg.Count)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Summary, len(sourceIDs))
	for i, id := range sourceIDs {
		if results[i] != nil {
			out[id] = *results[i]
		}
	}
	return out, nil
}

// aggregate uses the reader's pushdown when available, otherwise folds the
// raw samples in process.
func (s *Summarizer) aggregate(ctx context.Context, sourceID string, from, to time.Time) (source.Aggregate, bool, error) {
	if agg, ok := s.reader.(source.Aggregator); ok {
		return agg.Aggregate(ctx, sourceID, from, to)
	}

	samples, err := s.reader.Read(ctx, sourceID, from, to)
	if err != nil {
		return source.Aggregate{}, false, err
	}

	var agg source.Aggregate
	for _, sm := range samples {
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
