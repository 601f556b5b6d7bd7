package balancer

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/davidkimai/godel-sub021/types"
)

// migrationLoop is the single periodic relocation sweep. It fires while the
// local runtime stays at or above the capacity threshold and a remote
// candidate exists, moving at most one agent per sweep.
func (lb *LoadBalancer) migrationLoop() {
	defer lb.wg.Done()

	ticker := time.NewTicker(lb.cfg.MigrationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lb.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), lb.cfg.SpawnTimeout)
			lb.sweepOnce(ctx)
			cancel()
		}
	}
}

// sweepOnce relocates the oldest eligible local agent to the best remote
// cluster when the local runtime is overloaded. An agent migrated less than
// MigrationCooldown ago is never touched.
func (lb *LoadBalancer) sweepOnce(ctx context.Context) {
	capacity, err := lb.local.Capacity(ctx)
	if err != nil {
		lb.logger.Warn("migration sweep: capacity query failed", zap.Error(err))
		return
	}
	if capacity.Load < lb.cfg.LocalCapacityThreshold {
		return
	}

	agents, err := lb.local.List(ctx)
	if err != nil {
		lb.logger.Warn("migration sweep: local list failed", zap.Error(err))
		return
	}
	if len(agents) == 0 {
		return
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].StartedAt.Before(agents[j].StartedAt)
	})

	now := time.Now()
	var candidate *types.Agent
	lb.mu.Lock()
	for _, a := range agents {
		if last, ok := lb.lastMigration[a.ID]; ok && now.Sub(last) < lb.cfg.MigrationCooldown {
			continue
		}
		candidate = a
		break
	}
	lb.mu.Unlock()
	if candidate == nil {
		return
	}

	target := lb.registry.BestCluster(lb.criteriaFor(types.SpawnConfig{Model: candidate.Model}))
	if target == nil {
		return
	}

	if err := lb.migrate(ctx, candidate, target.ID, target.Endpoint); err != nil {
		lb.logger.Warn("migration failed",
			zap.String("agent_id", candidate.ID),
			zap.String("cluster_id", target.ID),
			zap.Error(err),
		)
	}
}

// migrate respawns the agent remotely under its existing id, then kills the
// local copy. The remote spawn goes first so a failure leaves the agent
// untouched on the local runtime.
func (lb *LoadBalancer) migrate(ctx context.Context, agent *types.Agent, clusterID, endpoint string) error {
	client, err := lb.dialer.Dial(endpoint)
	if err != nil {
		lb.registry.ReportRemoteFailure(clusterID)
		return types.NewError(types.ErrTransientRemote,
			"failed to dial migration target").WithCause(err).WithCluster(clusterID)
	}

	cfg := types.SpawnConfig{
		Model:   agent.Model,
		Labels:  agent.Labels,
		AgentID: agent.ID,
	}
	if _, err := client.Spawn(ctx, cfg); err != nil {
		lb.registry.ReportRemoteFailure(clusterID)
		return err
	}

	if err := lb.local.Kill(ctx, agent.ID); err != nil {
		// The remote copy exists either way; record the new location and
		// surface the cleanup failure.
		lb.logger.Error("migration: local kill failed after remote spawn",
			zap.String("agent_id", agent.ID), zap.Error(err))
	}

	lb.mu.Lock()
	lb.remoteAgents[agent.ID] = clusterID
	lb.lastMigration[agent.ID] = time.Now()
	lb.migrations++
	relocate := lb.onRelocate
	lb.mu.Unlock()

	lb.metrics.RecordMigration()
	lb.logger.Info("agent migrated",
		zap.String("agent_id", agent.ID),
		zap.String("cluster_id", clusterID),
	)

	if relocate != nil {
		relocate(agent.ID, clusterID)
	}
	return nil
}
