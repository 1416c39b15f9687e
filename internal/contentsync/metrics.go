package contentsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/contentsync/internal/logfields"
	"github.com/simplesurance/contentsync/internal/syncerr"
)

const metricNamespace = "contentsync"

const (
	syncRunsMetricName     = "sync_runs_total"
	failedStepsMetricName  = "failed_steps_total"
	syncDurationMetricName = "sync_duration_seconds"
)

const (
	repositoryLabel = "repository"
	resultLabel     = "result"
	stepLabel       = "step"
)

const resultLabelFailureVal = "failure"

type metricCollector struct {
	logger       *zap.Logger
	syncRuns     *prometheus.CounterVec
	failedSteps  *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		syncRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      syncRunsMetricName,
				Help:      "count of sync runs by result",
			},
			[]string{repositoryLabel, resultLabel},
		),
		failedSteps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      failedStepsMetricName,
				Help:      "count of failed sync workflow steps",
			},
			[]string{repositoryLabel, stepLabel},
		),
		syncDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      syncDurationMetricName,
				Help:      "duration of sync runs",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) SyncRunsInc(repo *Repository, result string) {
	cnt, err := m.syncRuns.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		resultLabel:     result,
	})
	if err != nil {
		m.logGetMetricFailed(syncRunsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) FailedStepsInc(repo *Repository, step syncerr.Step) {
	cnt, err := m.failedSteps.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		stepLabel:       string(step),
	})
	if err != nil {
		m.logGetMetricFailed(failedStepsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) ObserveSyncDuration(seconds float64) {
	m.syncDuration.Observe(seconds)
}

// RecordSkipped records a run that was not started because its trigger did
// not match.
func RecordSkipped(repo *Repository) {
	metrics.SyncRunsInc(repo, string(StatusSkipped))
}
