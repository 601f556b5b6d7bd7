package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidkimai/godel-sub021/internal/events"
	"github.com/davidkimai/godel-sub021/internal/metrics"
	"github.com/davidkimai/godel-sub021/types"
)

// HealthConfig configures the heartbeat-driven health monitor.
type HealthConfig struct {
	// Enabled starts the periodic monitor at registry construction.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// CheckInterval is the sweep period.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	// DegradedAfter demotes active clusters whose last heartbeat is older
	// than this.
	DegradedAfter time.Duration `json:"degraded_after" yaml:"degraded_after"`
	// OfflineAfter demotes clusters (active or degraded) whose last
	// heartbeat is older than this.
	OfflineAfter time.Duration `json:"offline_after" yaml:"offline_after"`
}

// DefaultHealthConfig returns the default cluster health thresholds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Enabled:       true,
		CheckInterval: 15 * time.Second,
		DegradedAfter: 45 * time.Second,
		OfflineAfter:  3 * time.Minute,
	}
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Health HealthConfig
	// Snapshot, when set, makes register/unregister write through to Redis
	// so a restarted control plane can rehydrate the catalog.
	Snapshot *RedisStore
	// Metrics may be nil.
	Metrics *metrics.Collector
}

// Registry is the catalog of known remote clusters. All mutations happen in
// one synchronous critical section; reads return deep copies.
type Registry struct {
	mu       sync.RWMutex
	clusters map[string]*Cluster

	cfg     RegistryConfig
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRegistry creates a registry and, when health checking is enabled,
// starts its single periodic monitor task. Dispose stops it.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Health.CheckInterval <= 0 {
		cfg.Health.CheckInterval = DefaultHealthConfig().CheckInterval
	}
	if cfg.Health.DegradedAfter <= 0 {
		cfg.Health.DegradedAfter = DefaultHealthConfig().DegradedAfter
	}
	if cfg.Health.OfflineAfter <= 0 {
		cfg.Health.OfflineAfter = DefaultHealthConfig().OfflineAfter
	}

	r := &Registry{
		clusters: make(map[string]*Cluster),
		cfg:      cfg,
		bus:      events.NewBus(),
		metrics:  cfg.Metrics,
		logger:   logger.With(zap.String("component", "cluster_registry")),
		done:     make(chan struct{}),
	}

	if cfg.Health.Enabled {
		r.wg.Add(1)
		go r.healthLoop()
	}

	return r
}

// Events returns the registry's event bus for subscription.
func (r *Registry) Events() *events.Bus {
	return r.bus
}

// Register stores a cluster keyed by id. A missing id or endpoint is a
// VALIDATION error. Re-registration overwrites the entry but preserves the
// original RegisteredAt.
func (r *Registry) Register(c *Cluster) error {
	if c == nil || c.ID == "" || c.Endpoint == "" {
		return types.NewError(types.ErrValidation, "cluster must have id and endpoint")
	}

	stored := c.clone()
	now := time.Now()
	if stored.Status == "" {
		stored.Status = StatusActive
	}
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = now
	}
	stored.RegisteredAt = now

	r.mu.Lock()
	if prev, ok := r.clusters[stored.ID]; ok {
		stored.RegisteredAt = prev.RegisteredAt
	}
	r.clusters[stored.ID] = stored
	total := len(r.clusters)
	r.mu.Unlock()

	r.metrics.SetRegisteredClusters(total)
	r.logger.Info("cluster registered",
		zap.String("cluster_id", stored.ID),
		zap.String("endpoint", stored.Endpoint),
		zap.String("region", stored.Region),
	)

	if r.cfg.Snapshot != nil {
		if err := r.cfg.Snapshot.Save(context.Background(), stored); err != nil {
			r.logger.Warn("catalog snapshot save failed",
				zap.String("cluster_id", stored.ID), zap.Error(err))
		}
	}

	r.bus.Publish(events.ClusterRegistered{
		ClusterID: stored.ID,
		Name:      stored.Name,
		Endpoint:  stored.Endpoint,
	})
	return nil
}

// Unregister removes a cluster from every index atomically. It returns false
// when the id was absent; repeated calls after the first return false.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.clusters[id]
	if ok {
		delete(r.clusters, id)
	}
	total := len(r.clusters)
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.metrics.SetRegisteredClusters(total)
	r.logger.Info("cluster unregistered", zap.String("cluster_id", id))

	if r.cfg.Snapshot != nil {
		if err := r.cfg.Snapshot.Delete(context.Background(), id); err != nil {
			r.logger.Warn("catalog snapshot delete failed",
				zap.String("cluster_id", id), zap.Error(err))
		}
	}

	r.bus.Publish(events.ClusterUnregistered{ClusterID: id})
	return true
}

// Get returns a copy of the cluster with the given id.
func (r *Registry) Get(id string) (*Cluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clusters[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Clusters returns all registered clusters, ordered by id.
func (r *Registry) Clusters() []*Cluster {
	return r.snapshot(func(*Cluster) bool { return true })
}

// ActiveClusters returns all clusters with active status, ordered by id.
func (r *Registry) ActiveClusters() []*Cluster {
	return r.snapshot(func(c *Cluster) bool { return c.Status == StatusActive })
}

// ClustersByRegion returns all clusters in the given region, ordered by id.
func (r *Registry) ClustersByRegion(region string) []*Cluster {
	return r.snapshot(func(c *Cluster) bool { return c.Region == region })
}

// GPUClusters returns GPU-enabled clusters, optionally restricted to one GPU
// type, ordered by id.
func (r *Registry) GPUClusters(gpuType ...string) []*Cluster {
	want := ""
	if len(gpuType) > 0 {
		want = gpuType[0]
	}
	return r.snapshot(func(c *Cluster) bool { return c.Capabilities.HasGPUType(want) })
}

// snapshot copies every cluster matching the predicate, sorted by id.
func (r *Registry) snapshot(match func(*Cluster) bool) []*Cluster {
	r.mu.RLock()
	out := make([]*Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		if match(c) {
			out = append(out, c.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Heartbeat refreshes a cluster's liveness. A degraded or offline cluster is
// restored to active; caps, when non-nil, replaces the stored capabilities.
// This is the consuming end of the out-of-scope heartbeat channel.
func (r *Registry) Heartbeat(id string, caps *Capabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clusters[id]
	if !ok {
		return false
	}
	c.LastHeartbeat = time.Now()
	c.Status = StatusActive
	if caps != nil {
		c.Capabilities = *caps
	}
	return true
}

// ReportRemoteFailure feeds a remote communication failure into cluster
// health, pushing an active cluster to degraded. It never errors and never
// touches other clusters.
func (r *Registry) ReportRemoteFailure(id string) {
	r.mu.Lock()
	c, ok := r.clusters[id]
	demoted := ok && c.Status == StatusActive
	if demoted {
		c.Status = StatusDegraded
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.metrics.RecordRemoteFailure(id)
	if demoted {
		r.metrics.RecordHealthDemotion(string(StatusDegraded))
		r.logger.Warn("cluster demoted after remote failure", zap.String("cluster_id", id))
	}
}

// GetStats summarizes the catalog.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	s.TotalClusters = len(r.clusters)
	for _, c := range r.clusters {
		switch c.Status {
		case StatusActive:
			s.ActiveClusters++
		case StatusDegraded:
			s.DegradedClusters++
		}
		s.TotalCapacity += c.Capabilities.MaxAgents
		s.AvailableCapacity += c.Capabilities.AvailableAgents
		if c.Capabilities.GPUEnabled {
			s.GPUClusters++
		}
	}
	return s
}

// Rehydrate loads a previously snapshotted catalog from the store and
// registers every cluster that is not already present.
func (r *Registry) Rehydrate(ctx context.Context, store *RedisStore) error {
	clusters, err := store.Load(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, c := range clusters {
		r.mu.Lock()
		_, exists := r.clusters[c.ID]
		if !exists {
			r.clusters[c.ID] = c.clone()
			restored++
		}
		total := len(r.clusters)
		r.mu.Unlock()
		r.metrics.SetRegisteredClusters(total)
	}

	r.logger.Info("catalog rehydrated",
		zap.Int("loaded", len(clusters)),
		zap.Int("restored", restored),
	)
	return nil
}

// healthLoop is the single periodic health monitor task.
func (r *Registry) healthLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Health.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.checkHealth(time.Now())
		}
	}
}

// checkHealth demotes clusters whose heartbeat age crossed the configured
// thresholds: active -> degraded -> offline.
func (r *Registry) checkHealth(now time.Time) {
	type demotion struct {
		id string
		to Status
	}
	var demotions []demotion

	r.mu.Lock()
	for _, c := range r.clusters {
		age := now.Sub(c.LastHeartbeat)
		switch {
		case c.Status != StatusOffline && age >= r.cfg.Health.OfflineAfter:
			c.Status = StatusOffline
			demotions = append(demotions, demotion{c.ID, StatusOffline})
		case c.Status == StatusActive && age >= r.cfg.Health.DegradedAfter:
			c.Status = StatusDegraded
			demotions = append(demotions, demotion{c.ID, StatusDegraded})
		}
	}
	r.mu.Unlock()

	for _, d := range demotions {
		r.metrics.RecordHealthDemotion(string(d.to))
		r.logger.Warn("cluster health demoted",
			zap.String("cluster_id", d.id),
			zap.String("status", string(d.to)),
		)
	}
}

// Dispose stops the health monitor and detaches all listeners. Safe to call
// multiple times.
func (r *Registry) Dispose() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.bus.Close()
		r.logger.Info("cluster registry disposed")
	})
}
