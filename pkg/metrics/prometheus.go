package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fitsTotal   *prometheus.CounterVec
	evaluations *prometheus.HistogramVec
	curveRows   *prometheus.CounterVec
	cacheTotal  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		fitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eosfit_fits_total",
				Help: "Model fits by model, data kind and outcome",
			},
			[]string{"model", "kind", "converged"},
		),
		evaluations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eosfit_fit_evaluations",
				Help:    "Residual evaluations spent per fit",
				Buckets: prometheus.ExponentialBuckets(10, 4, 7),
			},
			[]string{"model"},
		),
		curveRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eosfit_curve_rows_total",
				Help: "Rows of derived V, P, E, H curves",
			},
			[]string{"model"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eosfit_fit_cache_total",
				Help: "Fit cache lookups by result",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eosfit_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eosfit_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFit counts one model fit and the evaluations it used.
func (r *Recorder) RecordFit(model, kind string, converged bool, evaluations int) {
	r.fitsTotal.WithLabelValues(model, kind, strconv.FormatBool(converged)).Inc()
	r.evaluations.WithLabelValues(model).Observe(float64(evaluations))
}

func (r *Recorder) RecordCurve(model string, rows int) {
	r.curveRows.WithLabelValues(model).Add(float64(rows))
}

func (r *Recorder) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheTotal.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
