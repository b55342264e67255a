package optimizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass outcomes.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// metrics is a container of metrics for an optimizer.
type metrics struct {
	// registry to collect metrics as a unit.
	reg *prometheus.Registry

	passRunsTotal *prometheus.CounterVec
	passSeconds   *prometheus.HistogramVec
	runsTotal     prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	return &metrics{
		reg: reg,

		passRunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dagopt_optimizer_pass_runs_total",
			Help: "Total number of pass executions by outcome",
		}, []string{"pass", "outcome"}),
		passSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dagopt_optimizer_pass_seconds",
			Help:    "Number of seconds a pass took to run",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),

			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		}, []string{"pass"}),
		runsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dagopt_optimizer_runs_total",
			Help: "Total number of optimizer runs started",
		}),
	}
}

func (m *metrics) observe(pass string, d time.Duration, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}
	m.passRunsTotal.WithLabelValues(pass, outcome).Inc()
	m.passSeconds.WithLabelValues(pass).Observe(d.Seconds())
}
