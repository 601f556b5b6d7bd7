// Package metrics provides internal metrics collection for the federation
// subsystem. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Placement outcome label values.
const (
	PlacementLocal     = "local"
	PlacementRemote    = "remote"
	PlacementExhausted = "exhausted"
)

// Collector bundles the federation metrics. A nil *Collector is valid and
// turns every record call into a no-op, so components can run unmetered.
type Collector struct {
	placementsTotal   *prometheus.CounterVec
	spawnsTotal       *prometheus.CounterVec
	killsTotal        prometheus.Counter
	migrationsTotal   prometheus.Counter
	healthDemotions   *prometheus.CounterVec
	remoteFailures    *prometheus.CounterVec
	registeredGauge   prometheus.Gauge
	remoteCallSeconds *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a Collector registered on the default registry under
// the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.placementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_total",
			Help:      "Total placement decisions by outcome",
		},
		[]string{"outcome"},
	)

	c.spawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_spawns_total",
			Help:      "Total agent spawns by backend",
		},
		[]string{"backend"},
	)

	c.killsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_kills_total",
			Help:      "Total agent kills",
		},
	)

	c.migrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_migrations_total",
			Help:      "Total completed agent relocations between backends",
		},
	)

	c.healthDemotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_health_demotions_total",
			Help:      "Cluster status demotions by resulting status",
		},
		[]string{"to"},
	)

	c.remoteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Remote cluster call failures by cluster id",
		},
		[]string{"cluster"},
	)

	c.registeredGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_clusters",
			Help:      "Number of clusters currently registered",
		},
	)

	c.remoteCallSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote cluster call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	return c
}

// RecordPlacement counts a placement decision outcome.
func (c *Collector) RecordPlacement(outcome string) {
	if c == nil {
		return
	}
	c.placementsTotal.WithLabelValues(outcome).Inc()
}

// RecordSpawn counts a completed spawn on the given backend.
func (c *Collector) RecordSpawn(backend string) {
	if c == nil {
		return
	}
	c.spawnsTotal.WithLabelValues(backend).Inc()
}

// RecordKill counts a completed kill.
func (c *Collector) RecordKill() {
	if c == nil {
		return
	}
	c.killsTotal.Inc()
}

// RecordMigration counts a completed relocation.
func (c *Collector) RecordMigration() {
	if c == nil {
		return
	}
	c.migrationsTotal.Inc()
}

// RecordHealthDemotion counts a status demotion to the given status.
func (c *Collector) RecordHealthDemotion(to string) {
	if c == nil {
		return
	}
	c.healthDemotions.WithLabelValues(to).Inc()
}

// RecordRemoteFailure counts a failed call against a cluster.
func (c *Collector) RecordRemoteFailure(clusterID string) {
	if c == nil {
		return
	}
	c.remoteFailures.WithLabelValues(clusterID).Inc()
}

// SetRegisteredClusters reports the current registry size.
func (c *Collector) SetRegisteredClusters(n int) {
	if c == nil {
		return
	}
	c.registeredGauge.Set(float64(n))
}

// ObserveRemoteCall records the duration of a remote call.
func (c *Collector) ObserveRemoteCall(op string, seconds float64) {
	if c == nil {
		return
	}
	c.remoteCallSeconds.WithLabelValues(op).Observe(seconds)
}
