package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const jobName = "arukereso_extractor"

// Registry holds the run metrics. A batch job has no scrape endpoint, so
// values are pushed to a Pushgateway when the run ends.
type Registry struct {
	reg           *prometheus.Registry
	FilesSelected prometheus.Counter
	FilesFailed   *prometheus.CounterVec
	FilesDone     prometheus.Counter
	Records       prometheus.Counter
	Watermark     prometheus.Gauge
	LastSuccess   prometheus.Gauge
	Duration      prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	selected := prometheus.NewCounter(prometheus.CounterOpts{Name: "arukereso_files_selected_total"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "arukereso_files_failed_total"}, []string{"stage"})
	done := prometheus.NewCounter(prometheus.CounterOpts{Name: "arukereso_files_processed_total"})
	records := prometheus.NewCounter(prometheus.CounterOpts{Name: "arukereso_records_emitted_total"})
	watermark := prometheus.NewGauge(prometheus.GaugeOpts{Name: "arukereso_watermark_seconds"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Name: "arukereso_last_success_timestamp_seconds"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arukereso_run_duration_seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	r.MustRegister(selected, failed, done, records, watermark, lastSuccess, duration)
	return &Registry{
		reg:           r,
		FilesSelected: selected,
		FilesFailed:   failed,
		FilesDone:     done,
		Records:       records,
		Watermark:     watermark,
		LastSuccess:   lastSuccess,
		Duration:      duration,
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Push sends the registry to the Pushgateway at url, grouped by retailer.
// A nil client uses http.DefaultClient.
func (r *Registry) Push(ctx context.Context, client push.HTTPDoer, url, retailer string) error {
	p := push.New(url, jobName).
		Gatherer(r.reg).
		Grouping("retailer", retailer)
	if client != nil {
		p = p.Client(client)
	}
	err := p.PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
