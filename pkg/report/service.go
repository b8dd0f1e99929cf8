// Package report is the orchestration layer: it resolves a template to its
// source set and drives alignment, streaming and statistics over it.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"reportgrid/pkg/align"
	"reportgrid/pkg/audit"
	"reportgrid/pkg/bucket"
	"reportgrid/pkg/config"
	"reportgrid/pkg/materialize"
	"reportgrid/pkg/source"
	"reportgrid/pkg/stats"
	"reportgrid/pkg/template"
)

// Service exposes the report engine operations. All shared state is
// read-only configuration, the result cache and the optional
// materialization manager; independent requests run concurrently.
type Service struct {
	templates    template.Store
	aligner      *align.Aligner
	summarizer   *stats.Summarizer
	materializer *materialize.Manager
	cache        *ristretto.Cache[uint64, []align.Row]
	audit        audit.Notifier
	logger       zerolog.Logger
}

// Options configures optional collaborators.
type Options struct {
	// Materializer serves precomputed grids when one covers the request.
	Materializer *materialize.Manager

	// Audit receives fire-and-forget action events. Defaults to Noop.
	Audit audit.Notifier

	// Logger for request-level logging. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// DisableCache turns the request-keyed result cache off.
	DisableCache bool
}

// New wires a service over a template store, a source reader and a grid.
func New(templates template.Store, reader source.Reader, grid bucket.Grid, opts Options) (*Service, error) {
	s := &Service{
		templates:    templates,
		aligner:      align.New(reader, grid),
		summarizer:   stats.New(reader),
		materializer: opts.Materializer,
		audit:        opts.Audit,
		logger:       zerolog.Nop(),
	}
	if s.audit == nil {
		s.audit = audit.Noop{}
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	if !opts.DisableCache {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, []align.Row]{
			NumCounters: config.CacheNumCounters,
			MaxCost:     config.CacheMaxCost,
			BufferItems: config.CacheBufferItems,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create report cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// GenerateReport produces the full aligned row sequence for a template over
// [from, to], ordered by bucket ascending. An empty window yields an empty
// sequence, not an error.
func (s *Service) GenerateReport(ctx context.Context, templateID int64, from, to time.Time) ([]align.Row, error) {
	start := time.Now()

	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	sourceIDs, err := s.resolveSources(ctx, templateID)
	if err != nil {
		return nil, err
	}

	key := requestKey(sourceIDs, from, to)
	if s.cache != nil {
		if rows, ok := s.cache.Get(key); ok {
			cacheHits.Inc()
			s.audit.Record(audit.ActionReportGenerated, ActorFrom(ctx))
			return rows, nil
		}
	}

	rows, err := s.alignRows(ctx, sourceIDs, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		// Rows are immutable once returned, so sharing them between the
		// cache and callers is safe.
		s.cache.Set(key, rows, int64(len(rows))*config.RowCostBytes)
	}

	reportsGenerated.Inc()
	reportDuration.Observe(time.Since(start).Seconds())
	s.audit.Record(audit.ActionReportGenerated, ActorFrom(ctx))
	s.logger.Info().
		Int64("template", templateID).
		Time("from", from).
		Time("to", to).
		Int("sources", len(sourceIDs)).
		Int("rows", len(rows)).
		Dur("elapsed", time.Since(start)).
		Msg("report generated")

	return rows, nil
}

// GenerateReportStream produces the same rows as GenerateReport, delivered
// lazily in chunks of batchSize. Memory use is bounded by the page size,
// not the range length.
func (s *Service) GenerateReportStream(ctx context.Context, templateID int64, from, to time.Time, batchSize int) (*align.Iterator, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	sourceIDs, err := s.resolveSources(ctx, templateID)
	if err != nil {
		return nil, err
	}

	it, err := s.aligner.NewIterator(sourceIDs, from, to, batchSize)
	if err != nil {
		return nil, err
	}
	s.audit.Record(audit.ActionReportGenerated, ActorFrom(ctx))
	return it, nil
}

// ComputeStatistics returns per-source min/max/avg over [from, to].
// Sources with no samples in range are omitted.
func (s *Service) ComputeStatistics(ctx context.Context, templateID int64, from, to time.Time) (map[string]stats.Summary, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	sourceIDs, err := s.resolveSources(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.summarizer.Summarize(ctx, sourceIDs, from, to)
}

// DeliverReport streams a report into a renderer collaborator. The engine's
// obligation ends at delivering ordered, normalized rows with explicit
// absence markers; layout belongs to the renderer.
func (s *Service) DeliverReport(ctx context.Context, templateID int64, from, to time.Time, batchSize int, r Renderer) error {
	if err := validateRange(from, to); err != nil {
		return err
	}
	sourceIDs, err := s.resolveSources(ctx, templateID)
	if err != nil {
		return err
	}
	it, err := s.aligner.NewIterator(sourceIDs, from, to, batchSize)
	if err != nil {
		return err
	}

	// Cancel on early return so the chunk producer does not outlive us.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.Begin(ctx, RangeLabel{From: from, To: to}, sourceIDs); err != nil {
		return fmt.Errorf("renderer rejected report: %w", err)
	}
	for chunk := range it.Chunks(ctx) {
		if chunk.Err != nil {
			return chunk.Err
		}
		if err := r.Chunk(ctx, chunk.Rows); err != nil {
			return fmt.Errorf("renderer failed on chunk: %w", err)
		}
		chunksStreamed.Inc()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.End(ctx); err != nil {
		return fmt.Errorf("renderer failed to finish: %w", err)
	}

	s.audit.Record(audit.ActionReportDownloaded, ActorFrom(ctx))
	return nil
}

// alignRows prefers a covering materialized grid and falls back to live
// alignment, including when the handle went stale mid-request.
func (s *Service) alignRows(ctx context.Context, sourceIDs []string, from, to time.Time) ([]align.Row, error) {
	if s.materializer != nil {
		if h, ok := s.materializer.Lookup(sourceIDs, from, to); ok {
			rows, err := h.Rows(ctx, from, to)
			if err == nil {
				return rows, nil
			}
			if !errors.Is(err, materialize.ErrStaleHandle) && !errors.Is(err, materialize.ErrRangeNotCovered) {
				return nil, err
			}
			s.logger.Debug().Err(err).Msg("materialized grid unusable, aligning live")
		}
	}
	return s.aligner.Align(ctx, sourceIDs, from, to)
}

// resolveSources looks the template up and maps its parameters to source
// identifiers. Template-store errors pass through unchanged.
func (s *Service) resolveSources(ctx context.Context, templateID int64) ([]string, error) {
	tpl, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return template.ResolveSources(tpl)
}

func validateRange(from, to time.Time) error {
	if from.After(to) {
		return fmt.Errorf("from %s is after to %s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), align.ErrInvalidRequest)
	}
	return nil
}

// requestKey keys the result cache by (source set, range).
func requestKey(sourceIDs []string, from, to time.Time) uint64 {
	h := xxhash.New()
	for _, id := range sourceIDs {
		_, _ = h.WriteString(id)
		_, _ = h.WriteString("\x00")
	}
	var buf [16]byte
	writeInt64 := func(v int64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * (7 - i)))
		}
		_, _ = h.Write(buf[:8])
	}
	writeInt64(from.UnixNano())
	writeInt64(to.UnixNano())
	return h.Sum64()
}

type actorKey struct{}

// WithActor attaches the requesting user's identity to the context for
// audit events.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached to the context, or "system".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
