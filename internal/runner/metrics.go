package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kuitang/textile-e2e/internal/errs"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textile_e2e",
		Name:      "runs_total",
		Help:      "Scenario executions by browser and terminal state.",
	}, []string{"browser", "state"})
	metricRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "textile_e2e",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one scenario execution, session open to release.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"browser"})
	metricSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "textile_e2e",
		Name:      "sessions_open",
		Help:      "Browser sessions currently held by the runner.",
	})
	metricStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "textile_e2e",
		Name:      "step_failures_total",
		Help:      "Failed steps by error code.",
	}, []string{"code"})
)

func recordOutcome(o Outcome) {
	metricRuns.WithLabelValues(string(o.Browser), string(o.State)).Inc()
	metricRunDuration.WithLabelValues(string(o.Browser)).Observe(o.Duration.Seconds())
}

func recordStepFailure(code errs.Code) {
	metricStepFailures.WithLabelValues(string(code)).Inc()
}
