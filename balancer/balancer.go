// Package balancer implements the multi-cluster placement policy: deciding
// whether an agent workload runs on the local runtime or spills over to the
// best remote cluster, executing the spawn against the chosen backend, and
// optionally migrating agents off an overloaded local host.
package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidkimai/godel-sub021/cluster"
	"github.com/davidkimai/godel-sub021/internal/events"
	"github.com/davidkimai/godel-sub021/internal/metrics"
	"github.com/davidkimai/godel-sub021/internal/retry"
	"github.com/davidkimai/godel-sub021/remote"
	"github.com/davidkimai/godel-sub021/runtime"
	"github.com/davidkimai/godel-sub021/types"
)

// Config tunes the placement policy.
type Config struct {
	// LocalCapacityThreshold is the local load (0-1) above which spawns
	// spill over to remote clusters.
	LocalCapacityThreshold float64 `json:"local_capacity_threshold" yaml:"local_capacity_threshold"`
	// PreferLocal keeps spawns on the local runtime while it has headroom.
	PreferLocal bool `json:"prefer_local" yaml:"prefer_local"`
	// LocalGPU declares whether the local runtime can satisfy GPU spawns.
	LocalGPU bool `json:"local_gpu" yaml:"local_gpu"`
	// DefaultPriority is the scoring priority used when the caller does not
	// override it. Defaults to cost.
	DefaultPriority cluster.Priority `json:"default_priority" yaml:"default_priority"`
	// EnableMigration starts the background relocation sweep.
	EnableMigration bool `json:"enable_migration" yaml:"enable_migration"`
	// MigrationCooldown is the minimum time between relocations of the same
	// agent. Hard contract.
	MigrationCooldown time.Duration `json:"migration_cooldown" yaml:"migration_cooldown"`
	// MigrationInterval is the sweep period.
	MigrationInterval time.Duration `json:"migration_interval" yaml:"migration_interval"`
	// MaxRemoteRetries bounds how many alternate clusters a spawn tries
	// after a remote failure.
	MaxRemoteRetries int `json:"max_remote_retries" yaml:"max_remote_retries"`
	// SpawnTimeout bounds a placement attempt when the SpawnConfig carries
	// no timeout of its own.
	SpawnTimeout time.Duration `json:"spawn_timeout" yaml:"spawn_timeout"`
}

// DefaultConfig returns the default balancer policy.
func DefaultConfig() Config {
	return Config{
		LocalCapacityThreshold: 0.8,
		PreferLocal:            true,
		DefaultPriority:        cluster.PriorityCost,
		MigrationCooldown:      5 * time.Minute,
		MigrationInterval:      30 * time.Second,
		MaxRemoteRetries:       2,
		SpawnTimeout:           30 * time.Second,
	}
}

// Placement is the outcome of a placement decision.
type Placement struct {
	IsLocal bool
	// Cluster is set when IsLocal is false.
	Cluster *cluster.Cluster
}

// Stats summarizes the balancer's bookkeeping. The local count is live; the
// remote count is the internally tracked counter, since no live remote
// inventory is assumed available.
type Stats struct {
	TotalAgents     int   `json:"total_agents"`
	LocalAgents     int   `json:"local_agents"`
	RemoteAgents    int   `json:"remote_agents"`
	MigrationsTotal int64 `json:"migrations_total"`
}

// RelocationFunc is notified after a completed migration so location indices
// can be re-pointed. clusterID is empty when the new backend is local.
type RelocationFunc func(agentID, clusterID string)

// LoadBalancer decides local-vs-remote placement and executes spawns.
type LoadBalancer struct {
	registry *cluster.Registry
	local    runtime.LocalRuntime
	dialer   remote.Dialer
	cfg      Config

	bus     *events.Bus
	metrics *metrics.Collector
	retryer *retry.Retryer
	logger  *zap.Logger

	mu            sync.Mutex
	remoteAgents  map[string]string // agent id -> cluster id
	lastMigration map[string]time.Time
	migrations    int64
	onRelocate    RelocationFunc

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a load balancer. When migration is enabled its sweep starts
// immediately; Dispose stops it.
func New(registry *cluster.Registry, local runtime.LocalRuntime, dialer remote.Dialer, cfg Config, collector *metrics.Collector, logger *zap.Logger) *LoadBalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LocalCapacityThreshold <= 0 || cfg.LocalCapacityThreshold > 1 {
		cfg.LocalCapacityThreshold = DefaultConfig().LocalCapacityThreshold
	}
	if cfg.DefaultPriority == "" {
		cfg.DefaultPriority = cluster.PriorityCost
	}
	if cfg.MigrationCooldown <= 0 {
		cfg.MigrationCooldown = DefaultConfig().MigrationCooldown
	}
	if cfg.MigrationInterval <= 0 {
		cfg.MigrationInterval = DefaultConfig().MigrationInterval
	}
	if cfg.MaxRemoteRetries < 0 {
		cfg.MaxRemoteRetries = 0
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = DefaultConfig().SpawnTimeout
	}

	lb := &LoadBalancer{
		registry: registry,
		local:    local,
		dialer:   dialer,
		cfg:      cfg,
		bus:      events.NewBus(),
		metrics:  collector,
		retryer: retry.New(&retry.Policy{
			MaxRetries:   1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			Jitter:       true,
			RetryIf:      types.IsTransientRemote,
		}, logger),
		logger:        logger.With(zap.String("component", "load_balancer")),
		remoteAgents:  make(map[string]string),
		lastMigration: make(map[string]time.Time),
		done:          make(chan struct{}),
	}

	if cfg.EnableMigration {
		lb.wg.Add(1)
		go lb.migrationLoop()
	}

	return lb
}

// Events returns the balancer's event bus for subscription.
func (lb *LoadBalancer) Events() *events.Bus {
	return lb.bus
}

// OnRelocation registers the callback invoked after each completed
// migration.
func (lb *LoadBalancer) OnRelocation(fn RelocationFunc) {
	lb.mu.Lock()
	lb.onRelocate = fn
	lb.mu.Unlock()
}

// SelectCluster decides where a spawn should run. It prefers the local
// runtime while it has headroom and can satisfy any GPU requirement, then
// falls back to the registry's best remote candidate. When neither side can
// take the spawn the operation is exhausted.
func (lb *LoadBalancer) SelectCluster(ctx context.Context, cfg types.SpawnConfig) (Placement, error) {
	capacity, err := lb.local.Capacity(ctx)
	if err != nil {
		return Placement{}, fmt.Errorf("failed to query local capacity: %w", err)
	}

	gpuSatisfiable := !cfg.RequiresGPU || lb.cfg.LocalGPU
	if lb.cfg.PreferLocal &&
		capacity.Load < lb.cfg.LocalCapacityThreshold &&
		capacity.Available > 0 &&
		gpuSatisfiable {
		lb.metrics.RecordPlacement(metrics.PlacementLocal)
		return Placement{IsLocal: true}, nil
	}

	best := lb.registry.BestCluster(lb.criteriaFor(cfg))
	if best == nil {
		lb.metrics.RecordPlacement(metrics.PlacementExhausted)
		return Placement{}, types.NewError(types.ErrCapacityExhausted,
			"no local headroom and no eligible remote cluster")
	}

	lb.metrics.RecordPlacement(metrics.PlacementRemote)
	return Placement{Cluster: best}, nil
}

// criteriaFor builds placement criteria from a spawn request.
func (lb *LoadBalancer) criteriaFor(cfg types.SpawnConfig) cluster.PlacementCriteria {
	return cluster.PlacementCriteria{
		Priority:    lb.cfg.DefaultPriority,
		RequiresGPU: cfg.RequiresGPU,
		GPUType:     cfg.GPUType,
		MinAgents:   1,
	}
}

// SpawnAgent places and starts an agent. Remote failures are retried against
// the next-best candidate a bounded number of times; each failure demotes the
// failing cluster's health before the next pick.
func (lb *LoadBalancer) SpawnAgent(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = lb.cfg.SpawnTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	placement, err := lb.SelectCluster(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if placement.IsLocal {
		agent, err := lb.local.Spawn(ctx, cfg)
		if err != nil {
			return nil, err
		}
		lb.metrics.RecordSpawn("local")
		lb.logger.Info("agent placed locally", zap.String("agent_id", agent.ID))
		lb.bus.Publish(events.AgentSpawned{AgentID: agent.ID, IsLocal: true})
		return agent, nil
	}

	agent, err := lb.spawnRemote(ctx, placement.Cluster, cfg)
	if err != nil {
		return nil, err
	}

	lb.mu.Lock()
	lb.remoteAgents[agent.ID] = agent.ClusterID
	lb.mu.Unlock()

	lb.metrics.RecordSpawn("remote")
	lb.logger.Info("agent placed remotely",
		zap.String("agent_id", agent.ID),
		zap.String("cluster_id", agent.ClusterID),
	)
	lb.bus.Publish(events.AgentSpawned{AgentID: agent.ID, ClusterID: agent.ClusterID})
	return agent, nil
}

// spawnRemote runs a spawn against target, failing over to the next-best
// candidate after each transient failure, at most MaxRemoteRetries times.
func (lb *LoadBalancer) spawnRemote(ctx context.Context, target *cluster.Cluster, cfg types.SpawnConfig) (*types.Agent, error) {
	var lastErr error

	for attempt := 0; attempt <= lb.cfg.MaxRemoteRetries; attempt++ {
		if target == nil {
			break
		}

		agent, err := lb.spawnOn(ctx, target, cfg)
		if err == nil {
			agent.ClusterID = target.ID
			return agent, nil
		}
		lastErr = err

		if !types.IsTransientRemote(err) || ctx.Err() != nil {
			return nil, err
		}

		// Demoting the failed cluster excludes it from the next pick.
		lb.registry.ReportRemoteFailure(target.ID)
		lb.logger.Warn("remote spawn failed, trying next candidate",
			zap.String("cluster_id", target.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		target = lb.registry.BestCluster(lb.criteriaFor(cfg))
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, types.NewError(types.ErrCapacityExhausted, "no remote candidate left for spawn")
}

// spawnOn executes one spawn against a specific cluster with transient-error
// retry on that same cluster.
func (lb *LoadBalancer) spawnOn(ctx context.Context, target *cluster.Cluster, cfg types.SpawnConfig) (*types.Agent, error) {
	client, err := lb.dialer.Dial(target.Endpoint)
	if err != nil {
		return nil, types.NewError(types.ErrTransientRemote,
			fmt.Sprintf("failed to dial cluster %s", target.ID)).WithCause(err).WithCluster(target.ID)
	}

	var agent *types.Agent
	start := time.Now()
	err = lb.retryer.Do(ctx, func() error {
		var spawnErr error
		agent, spawnErr = client.Spawn(ctx, cfg)
		return spawnErr
	})
	lb.metrics.ObserveRemoteCall("spawn", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ReleaseAgent drops the bookkeeping for a terminated agent. The proxy calls
// this after a successful kill so the remote counter stays truthful.
func (lb *LoadBalancer) ReleaseAgent(agentID string) {
	lb.mu.Lock()
	delete(lb.remoteAgents, agentID)
	delete(lb.lastMigration, agentID)
	lb.mu.Unlock()
}

// GetStats combines a live local count with the tracked remote counter.
func (lb *LoadBalancer) GetStats(ctx context.Context) (Stats, error) {
	localAgents, err := lb.local.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list local agents: %w", err)
	}

	lb.mu.Lock()
	remote := len(lb.remoteAgents)
	migrations := lb.migrations
	lb.mu.Unlock()

	return Stats{
		TotalAgents:     len(localAgents) + remote,
		LocalAgents:     len(localAgents),
		RemoteAgents:    remote,
		MigrationsTotal: migrations,
	}, nil
}

// Dispose stops the migration sweep and detaches listeners. Safe to call
// multiple times; in-flight calls complete naturally.
func (lb *LoadBalancer) Dispose() {
	lb.closeOnce.Do(func() {
		close(lb.done)
		lb.wg.Wait()
		lb.bus.Close()
		lb.logger.Info("load balancer disposed")
	})
}
