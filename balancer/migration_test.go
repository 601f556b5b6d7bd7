package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidkimai/godel-sub021/types"
)

func TestSweepOnce_MigratesOldestAgentWhenOverloaded(t *testing.T) {
	f := newBalancerFixture(t, 2)
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	oldest, err := f.local.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newest, err := f.local.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	var relocated []string
	f.lb.OnRelocation(func(agentID, clusterID string) {
		relocated = append(relocated, agentID+"@"+clusterID)
	})

	f.lb.sweepOnce(ctx)

	// The oldest agent moved, under its original id; only one per sweep.
	agents := backend.Agents()
	require.Len(t, agents, 1)
	assert.Contains(t, agents, oldest.ID)

	local, err := f.local.List(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, newest.ID, local[0].ID)

	require.Len(t, relocated, 1)
	assert.Equal(t, oldest.ID+"@remote-1", relocated[0])

	stats, err := f.lb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MigrationsTotal)
	assert.Equal(t, 1, stats.RemoteAgents)
}

func TestSweepOnce_NoopBelowThreshold(t *testing.T) {
	f := newBalancerFixture(t, 10)
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	_, err := f.local.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	f.lb.sweepOnce(ctx)

	assert.Empty(t, backend.Agents())
	assert.Zero(t, backend.SpawnCalls)
}

func TestSweepOnce_NoopWithoutRemoteCandidate(t *testing.T) {
	f := newBalancerFixture(t, 1)
	ctx := context.Background()

	agent, err := f.local.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	f.lb.sweepOnce(ctx)

	// The agent stays put.
	local, err := f.local.List(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, agent.ID, local[0].ID)
}

func TestSweepOnce_CooldownBlocksRepeatMigration(t *testing.T) {
	f := newBalancerFixture(t, 1, func(c *Config) {
		c.MigrationCooldown = time.Hour
	})
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	agent, err := f.local.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	f.lb.sweepOnce(ctx)
	require.Len(t, backend.Agents(), 1)

	// Simulate the agent landing back on the overloaded local runtime; it
	// migrated moments ago, so the sweep must leave it alone.
	require.NoError(t, backend.Kill(ctx, agent.ID))
	_, err = f.local.Spawn(ctx, types.SpawnConfig{Model: "m1", AgentID: agent.ID})
	require.NoError(t, err)

	f.lb.sweepOnce(ctx)
	assert.Empty(t, backend.Agents())
	assert.Equal(t, 1, backend.SpawnCalls)

	stats, err := f.lb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MigrationsTotal)
}

func TestSweepOnce_RemoteFailureLeavesAgentLocal(t *testing.T) {
	f := newBalancerFixture(t, 1)
	backend := f.addCluster(t, "remote-1")
	backend.SpawnErr = types.NewError(types.ErrTransientRemote, "down")
	ctx := context.Background()

	agent, err := f.local.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	f.lb.sweepOnce(ctx)

	local, err := f.local.List(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, agent.ID, local[0].ID)

	stats, err := f.lb.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MigrationsTotal)
	assert.Zero(t, stats.RemoteAgents)
}
