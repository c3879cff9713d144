package lib

import (
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const METRICS_NAMESPACE = "migration_runner"
const PUSHGATEWAY_JOB_NAME = "migration_runner"

// MigrationMetrics describes the last run of a migration. It owns its registry,
// the values are only ever pushed to a Pushgateway since a one-shot command
// cannot be scraped.
type MigrationMetrics struct {
	PushgatewayURL string

	registry           *prometheus.Registry
	Duration           prometheus.Gauge
	Success            prometheus.Gauge
	StatementsExecuted prometheus.Gauge
	RowsAffected       prometheus.Gauge
	LastCompletion     prometheus.Gauge
	Runs               *prometheus.CounterVec
}

func NewMigrationMetrics(pushgatewayURL string) *MigrationMetrics {
	reg := prometheus.NewRegistry()
	m := &MigrationMetrics{
		PushgatewayURL: pushgatewayURL,
		registry:       reg,
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: METRICS_NAMESPACE,
			Name:      "duration_seconds",
			Help:      "Duration of the last migration run in seconds",
		}),
		Success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: METRICS_NAMESPACE,
			Name:      "success",
			Help:      "1 when the last migration run succeeded, 0 otherwise",
		}),
		StatementsExecuted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: METRICS_NAMESPACE,
			Name:      "statements_executed",
			Help:      "Statements executed by the last migration run",
		}),
		RowsAffected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: METRICS_NAMESPACE,
			Name:      "rows_affected",
			Help:      "Rows affected by the last migration run",
		}),
		LastCompletion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: METRICS_NAMESPACE,
			Name:      "last_completion_timestamp_seconds",
			Help:      "Unix time the last migration run finished",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: METRICS_NAMESPACE,
			Name:      "runs_total",
			Help:      "Migration runs by final status",
		}, []string{"status"}),
	}

	reg.MustRegister(m.Duration, m.Success, m.StatementsExecuted, m.RowsAffected, m.LastCompletion, m.Runs)
	return m
}

func (m *MigrationMetrics) Observe(run *MigrationRun) {
	m.Duration.Set(run.Duration().Seconds())
	m.StatementsExecuted.Set(float64(run.StatementsExecuted()))
	m.RowsAffected.Set(float64(run.RowsAffected()))
	m.LastCompletion.Set(float64(run.EndTimestamp) / 1000)
	m.Runs.WithLabelValues(run.Status).Inc()

	switch run.Status {
	case RUN_STATUS_APPLIED, RUN_STATUS_ALREADY_APPLIED, RUN_STATUS_DRY_RUN:
		m.Success.Set(1)
	default:
		m.Success.Set(0)
	}
}

// Push sends the registry to the Pushgateway grouped by migration name. It is
// a no-op without a configured URL.
func (m *MigrationMetrics) Push(ctx context.Context, migrationName string) error {
	if m == nil || m.PushgatewayURL == "" {
		return nil
	}

	return push.New(m.PushgatewayURL, PUSHGATEWAY_JOB_NAME).
		Gatherer(m.registry).
		Grouping("migration", migrationName).
		PushContext(ctx)
}
