// Package metrics exposes ingestion counters and pushes them to a
// Prometheus pushgateway after each run.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/model"
)

const namespace = "trialsync"

// Recorder collects ingestion metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	documents    *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	lastRun      prometheus.Gauge
	lastTouched  prometheus.Gauge
	fetchResults *prometheus.CounterVec
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed, by outcome.",
		}, []string{"outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs, by result.",
		}, []string{"result"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		lastTouched: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_touched_trials",
			Help:      "Trials created or updated by the last run.",
		}),
		fetchResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Registry study fetches, by result.",
		}, []string{"result"}),
	}
}

// Registry returns the registry holding every collector.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Document counts one processed document.
func (r *Recorder) Document(outcome string) {
	r.documents.WithLabelValues(outcome).Inc()
}

// Run records a finished run.
func (r *Recorder) Run(summary *model.RunSummary, elapsed time.Duration, failed bool) {
	result := "complete"
	if failed {
		result = "failed"
	}
	r.runs.WithLabelValues(result).Inc()
	r.runDuration.Observe(elapsed.Seconds())
	r.lastRun.SetToCurrentTime()
	if summary != nil {
		r.lastTouched.Set(float64(summary.Created + summary.Updated))
	}
}

// Fetched counts registry fetch results.
func (r *Recorder) Fetched(ok, failed int) {
	r.fetchResults.WithLabelValues("ok").Add(float64(ok))
	r.fetchResults.WithLabelValues("failed").Add(float64(failed))
}

// Push sends the registry to a pushgateway under job. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return eris.Wrap(err, "metrics: push")
	}
	zap.L().Debug("metrics pushed", zap.String("component", "metrics"), zap.String("job", job))
	return nil
}
