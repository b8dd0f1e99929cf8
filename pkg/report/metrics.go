package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportgrid_reports_generated_total",
		Help: "Total number of whole-range reports generated",
	})

	chunksStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportgrid_chunks_streamed_total",
		Help: "Total number of report chunks streamed",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportgrid_report_cache_hits_total",
		Help: "Total number of reports served from the result cache",
	})

	reportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reportgrid_report_duration_seconds",
		Help:    "Duration of report generation",
		Buckets: prometheus.DefBuckets,
	})
)
