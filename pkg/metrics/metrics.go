package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MigrationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vmware2scw_migrations_started_total",
		Help: "Number of VM migration pipelines launched.",
	})
	MigrationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vmware2scw_migrations_completed_total",
		Help: "Number of VM migrations that completed successfully.",
	})
	MigrationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vmware2scw_migrations_failed_total",
		Help: "Number of VM migrations that ended in failure.",
	})
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vmware2scw_stage_duration_seconds",
		Help:    "Wall-clock duration per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"stage"})
	SemaphoreInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vmware2scw_semaphore_in_flight",
		Help: "Stages currently holding each resource semaphore class.",
	}, []string{"resource"})
)
