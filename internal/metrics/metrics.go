// Package metrics exposes pipeline outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements pipeline.Observer.
type Recorder struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	pages         prometheus.Counter
	items         prometheus.Counter
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder registers the pipeline collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bill_parser",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome kind.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bill_parser",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "result"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bill_parser",
			Name:      "pages_rendered_total",
			Help:      "Pages rasterized by successful runs.",
		}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bill_parser",
			Name:      "items_extracted_total",
			Help:      "Transactions in successfully aggregated statements.",
		}),
	}
	r.registry.MustRegister(
		r.runs,
		r.stageDuration,
		r.pages,
		r.items,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// StageFinished records the stage duration labelled with its result.
func (r *Recorder) StageFinished(stage pipeline.Stage, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = domain.ErrorKind(err)
	}
	r.stageDuration.WithLabelValues(string(stage), result).Observe(elapsed.Seconds())
}

// RunFinished counts the run outcome.
func (r *Recorder) RunFinished(state *pipeline.PipelineState, err error) {
	if err != nil {
		r.runs.WithLabelValues(domain.ErrorKind(err)).Inc()
		return
	}
	r.runs.WithLabelValues("success").Inc()
	if len(state.Document) > 0 {
		r.pages.Add(float64(len(state.Pages)))
	}
	if state.Statement != nil {
		r.items.Add(float64(len(state.Statement.Items)))
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
