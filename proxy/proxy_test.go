package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidkimai/godel-sub021/balancer"
	"github.com/davidkimai/godel-sub021/cluster"
	"github.com/davidkimai/godel-sub021/internal/events"
	"github.com/davidkimai/godel-sub021/runtime"
	"github.com/davidkimai/godel-sub021/testutil/mocks"
	"github.com/davidkimai/godel-sub021/types"
)

type proxyFixture struct {
	registry *cluster.Registry
	local    *runtime.MemoryRuntime
	dialer   *mocks.Dialer
	lb       *balancer.LoadBalancer
	proxy    *Proxy
}

func newProxyFixture(t *testing.T, localMax int) *proxyFixture {
	t.Helper()

	registry := cluster.NewRegistry(cluster.RegistryConfig{
		Health: cluster.HealthConfig{Enabled: false},
	}, zap.NewNop())
	t.Cleanup(registry.Dispose)

	f := &proxyFixture{
		registry: registry,
		local:    runtime.NewMemoryRuntime(localMax, zap.NewNop()),
		dialer:   mocks.NewDialer(),
	}
	f.lb = balancer.New(registry, f.local, f.dialer, balancer.DefaultConfig(), nil, zap.NewNop())
	t.Cleanup(f.lb.Dispose)
	f.proxy = New(registry, f.lb, f.local, f.dialer, nil, zap.NewNop())
	t.Cleanup(f.proxy.Dispose)
	return f
}

func (f *proxyFixture) addCluster(t *testing.T, id string, mutate ...func(*cluster.Cluster)) *mocks.ClusterClient {
	t.Helper()
	c := &cluster.Cluster{
		ID:       id,
		Name:     id + "-name",
		Endpoint: id + ".example.com:8443",
		Status:   cluster.StatusActive,
		Capabilities: cluster.Capabilities{
			MaxAgents:       50,
			AvailableAgents: 50,
			LatencyMs:       20,
			CostPerHour:     1.0,
		},
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, f.registry.Register(c))
	return f.dialer.Register(c.Endpoint)
}

// fillLocal saturates the local runtime so further spawns go remote.
func (f *proxyFixture) fillLocal(t *testing.T) {
	t.Helper()
	for {
		cap, err := f.local.Capacity(context.Background())
		require.NoError(t, err)
		if cap.Available == 0 {
			return
		}
		_, err = f.local.Spawn(context.Background(), types.SpawnConfig{Model: "filler"})
		require.NoError(t, err)
	}
}

func TestProxy_SpawnExecKillLocal(t *testing.T) {
	f := newProxyFixture(t, 4)
	ctx := context.Background()

	var killed []events.AgentKilled
	f.proxy.Events().Subscribe(events.KindAgentKilled, func(e events.Event) {
		killed = append(killed, e.(events.AgentKilled))
	})

	agent, err := f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)
	assert.Empty(t, agent.ClusterID)

	result, err := f.proxy.Exec(ctx, agent.ID, "status")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "status")
	assert.Zero(t, result.ExitCode)

	require.NoError(t, f.proxy.Kill(ctx, agent.ID))
	require.Len(t, killed, 1)
	assert.Equal(t, agent.ID, killed[0].AgentID)

	// The tracking entry is gone; further operations miss.
	_, err = f.proxy.Exec(ctx, agent.ID, "status")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
	assert.Zero(t, f.proxy.GetStats().TotalTracked)
}

func TestProxy_SpawnExecKillRemote(t *testing.T) {
	f := newProxyFixture(t, 1)
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	f.fillLocal(t)

	agent, err := f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", agent.ClusterID)

	result, err := f.proxy.Exec(ctx, agent.ID, "ping")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "ping")
	assert.Equal(t, 1, backend.ExecCalls)

	require.NoError(t, f.proxy.Kill(ctx, agent.ID))
	assert.Empty(t, backend.Agents())

	stats, err := f.lb.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.RemoteAgents)
}

func TestProxy_ExecUnknownAgent(t *testing.T) {
	f := newProxyFixture(t, 2)

	_, err := f.proxy.Exec(context.Background(), "ghost-agent", "status")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
	assert.Contains(t, err.Error(), "ghost-agent")
}

func TestProxy_KillUnknownAgent(t *testing.T) {
	f := newProxyFixture(t, 2)

	err := f.proxy.Kill(context.Background(), "ghost-agent")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestProxy_KillRestoresEntryOnBackendFailure(t *testing.T) {
	f := newProxyFixture(t, 1)
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	f.fillLocal(t)

	agent, err := f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	backend.KillErr = types.NewError(types.ErrTransientRemote, "backend down")
	err = f.proxy.Kill(ctx, agent.ID)
	require.Error(t, err)

	// The entry is restored, so a retry after recovery works.
	backend.KillErr = nil
	require.NoError(t, f.proxy.Kill(ctx, agent.ID))
}

func TestProxy_ListFiltersAndAnnotates(t *testing.T) {
	f := newProxyFixture(t, 1)
	f.addCluster(t, "remote-1")
	ctx := context.Background()

	local, err := f.proxy.Spawn(ctx, types.SpawnConfig{
		Model:  "m1",
		Labels: map[string]string{"team": "infra", "tier": "gold"},
	})
	require.NoError(t, err)

	remoteAgent, err := f.proxy.Spawn(ctx, types.SpawnConfig{
		Model:  "m1",
		Labels: map[string]string{"team": "infra"},
	})
	require.NoError(t, err)
	require.Equal(t, "remote-1", remoteAgent.ClusterID)

	all, err := f.proxy.List(ctx, ListOptions{ShowCluster: true})
	require.NoError(t, err)
	require.Len(t, all, 2)

	names := map[string]string{}
	for _, l := range all {
		names[l.Agent.ID] = l.ClusterName
	}
	assert.Equal(t, "local", names[local.ID])
	assert.Equal(t, "remote-1-name", names[remoteAgent.ID])

	// Labels use AND semantics.
	filtered, err := f.proxy.List(ctx, ListOptions{
		IncludeRemote: true,
		Labels:        map[string]string{"team": "infra", "tier": "gold"},
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, local.ID, filtered[0].Agent.ID)
}

func TestProxy_ListLiveRemoteFallsBackWhenClusterDown(t *testing.T) {
	f := newProxyFixture(t, 1)
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	f.fillLocal(t)
	agent, err := f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	backend.ListErr = types.NewError(types.ErrTransientRemote, "backend down")
	listings, err := f.proxy.List(ctx, ListOptions{IncludeRemote: true})
	require.NoError(t, err)

	var found *Listing
	for _, l := range listings {
		if l.Agent.ID == agent.ID {
			found = l
		}
	}
	require.NotNil(t, found, "tracked remote agent must survive a dead cluster")
	assert.Equal(t, types.AgentStatusRunning, found.Agent.Status)
}

func TestProxy_ListLiveRemoteFlagsMissingAgents(t *testing.T) {
	f := newProxyFixture(t, 1)
	backend := f.addCluster(t, "remote-1")
	ctx := context.Background()

	f.fillLocal(t)
	agent, err := f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	// The cluster lost the agent behind the proxy's back.
	require.NoError(t, backend.Kill(ctx, agent.ID))

	listings, err := f.proxy.List(ctx, ListOptions{IncludeRemote: true})
	require.NoError(t, err)

	var found *Listing
	for _, l := range listings {
		if l.Agent.ID == agent.ID {
			found = l
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, types.AgentStatusUnknown, found.Agent.Status)
}

func TestProxy_RelocationRepointsRouting(t *testing.T) {
	registry := cluster.NewRegistry(cluster.RegistryConfig{
		Health: cluster.HealthConfig{Enabled: false},
	}, zap.NewNop())
	t.Cleanup(registry.Dispose)

	local := runtime.NewMemoryRuntime(1, zap.NewNop())
	dialer := mocks.NewDialer()

	cfg := balancer.DefaultConfig()
	cfg.EnableMigration = true
	cfg.MigrationInterval = 10 * time.Millisecond
	lb := balancer.New(registry, local, dialer, cfg, nil, zap.NewNop())
	t.Cleanup(lb.Dispose)

	p := New(registry, lb, local, dialer, nil, zap.NewNop())
	t.Cleanup(p.Dispose)

	require.NoError(t, registry.Register(&cluster.Cluster{
		ID:       "remote-1",
		Name:     "remote-1-name",
		Endpoint: "remote-1.example.com:8443",
		Status:   cluster.StatusActive,
		Capabilities: cluster.Capabilities{
			MaxAgents:       50,
			AvailableAgents: 50,
			LatencyMs:       20,
			CostPerHour:     1.0,
		},
	}))
	backend := dialer.Register("remote-1.example.com:8443")

	ctx := context.Background()
	agent, err := p.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)
	require.Empty(t, agent.ClusterID)

	// Local is now at 1/1 load, so the sweep moves the agent remotely and
	// the relocation callback re-points the proxy's routing. Poll through
	// Exec so we observe the re-pointed route, not just the remote spawn.
	require.Eventually(t, func() bool {
		result, err := p.Exec(ctx, agent.ID, "where")
		return err == nil && result.Output == "remote: where"
	}, 2*time.Second, 10*time.Millisecond, "routing never followed the migration")

	assert.GreaterOrEqual(t, backend.ExecCalls, 1)
	assert.Contains(t, backend.Agents(), agent.ID)
}

func TestProxy_GetStats(t *testing.T) {
	f := newProxyFixture(t, 1)
	f.addCluster(t, "remote-1")
	ctx := context.Background()

	_, err := f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)
	_, err = f.proxy.Spawn(ctx, types.SpawnConfig{Model: "m1"})
	require.NoError(t, err)

	stats := f.proxy.GetStats()
	assert.Equal(t, 1, stats.TrackedLocalAgents)
	assert.Equal(t, 1, stats.TrackedRemoteAgents)
	assert.Equal(t, 2, stats.TotalTracked)
	assert.Equal(t, 1, stats.RegisteredClusters)
}
