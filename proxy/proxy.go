// Package proxy is the caller-facing facade of the cluster federation. It
// spawns agents through the load balancer, remembers where each agent ended
// up, and routes exec/kill/list calls to the right backend so callers never
// need to know whether an agent is local or remote.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidkimai/godel-sub021/balancer"
	"github.com/davidkimai/godel-sub021/cluster"
	"github.com/davidkimai/godel-sub021/internal/events"
	"github.com/davidkimai/godel-sub021/internal/metrics"
	"github.com/davidkimai/godel-sub021/remote"
	"github.com/davidkimai/godel-sub021/runtime"
	"github.com/davidkimai/godel-sub021/types"
)

// location is the proxy's routing record for one agent. Between spawn and
// kill this map, not the backends, is the authority on where an agent is.
type location struct {
	isLocal   bool
	clusterID string
}

// ListOptions filters and shapes List results.
type ListOptions struct {
	// Status keeps only agents whose status matches exactly.
	Status types.AgentStatus
	// Labels keeps only agents carrying every given key/value pair.
	Labels map[string]string
	// ShowCluster annotates each entry with IsLocal and ClusterName.
	ShowCluster bool
	// IncludeRemote fetches live inventory from each involved cluster
	// instead of relying on tracked state alone.
	IncludeRemote bool
}

// Listing is one List result entry. IsLocal and ClusterName are populated
// only when ShowCluster was set.
type Listing struct {
	Agent       *types.Agent `json:"agent"`
	IsLocal     bool         `json:"is_local,omitempty"`
	ClusterName string       `json:"cluster_name,omitempty"`
}

// Stats summarizes the proxy's tracking state.
type Stats struct {
	TrackedLocalAgents  int `json:"tracked_local_agents"`
	TrackedRemoteAgents int `json:"tracked_remote_agents"`
	TotalTracked        int `json:"total_tracked"`
	RegisteredClusters  int `json:"registered_clusters"`
}

// Proxy routes agent operations by consulting its location map.
type Proxy struct {
	registry *cluster.Registry
	balancer *balancer.LoadBalancer
	local    runtime.LocalRuntime
	dialer   remote.Dialer

	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger

	mu        sync.RWMutex
	locations map[string]location

	closeOnce sync.Once
}

// New creates a proxy and subscribes it to the balancer's relocation
// callback so migrated agents stay routable.
func New(registry *cluster.Registry, lb *balancer.LoadBalancer, local runtime.LocalRuntime, dialer remote.Dialer, collector *metrics.Collector, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Proxy{
		registry:  registry,
		balancer:  lb,
		local:     local,
		dialer:    dialer,
		bus:       events.NewBus(),
		metrics:   collector,
		logger:    logger.With(zap.String("component", "cluster_proxy")),
		locations: make(map[string]location),
	}

	lb.OnRelocation(func(agentID, clusterID string) {
		p.mu.Lock()
		if _, ok := p.locations[agentID]; ok {
			p.locations[agentID] = location{isLocal: clusterID == "", clusterID: clusterID}
		}
		p.mu.Unlock()
	})

	return p
}

// Events returns the proxy's event bus for subscription.
func (p *Proxy) Events() *events.Bus {
	return p.bus
}

// Spawn places an agent through the load balancer and records its resolved
// location.
func (p *Proxy) Spawn(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error) {
	agent, err := p.balancer.SpawnAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.locations[agent.ID] = location{
		isLocal:   agent.ClusterID == "",
		clusterID: agent.ClusterID,
	}
	p.mu.Unlock()

	p.bus.Publish(events.AgentSpawned{
		AgentID:   agent.ID,
		ClusterID: agent.ClusterID,
		IsLocal:   agent.ClusterID == "",
	})
	return agent, nil
}

// Exec routes a command to the backend running the agent.
func (p *Proxy) Exec(ctx context.Context, agentID, command string) (*types.ExecResult, error) {
	loc, ok := p.lookup(agentID)
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("%s not found", agentID))
	}

	if loc.isLocal {
		return p.local.Exec(ctx, agentID, command)
	}

	client, err := p.clientFor(loc.clusterID)
	if err != nil {
		return nil, err
	}
	result, err := client.Exec(ctx, agentID, command)
	if err != nil {
		if types.IsTransientRemote(err) {
			p.registry.ReportRemoteFailure(loc.clusterID)
		}
		return nil, err
	}
	return result, nil
}

// Kill terminates an agent and removes its tracking entry. The entry is
// claimed before the backend call so two concurrent kills cannot both
// succeed; a failed backend kill restores it.
func (p *Proxy) Kill(ctx context.Context, agentID string) error {
	p.mu.Lock()
	loc, ok := p.locations[agentID]
	if ok {
		delete(p.locations, agentID)
	}
	p.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("%s not found", agentID))
	}

	var err error
	if loc.isLocal {
		err = p.local.Kill(ctx, agentID)
	} else {
		var client remote.Client
		client, err = p.clientFor(loc.clusterID)
		if err == nil {
			err = client.Kill(ctx, agentID)
		}
	}

	if err != nil {
		if types.IsTransientRemote(err) {
			p.registry.ReportRemoteFailure(loc.clusterID)
		}
		p.mu.Lock()
		p.locations[agentID] = loc
		p.mu.Unlock()
		return err
	}

	p.balancer.ReleaseAgent(agentID)
	p.metrics.RecordKill()
	p.logger.Info("agent killed", zap.String("agent_id", agentID))
	p.bus.Publish(events.AgentKilled{AgentID: agentID})
	return nil
}

// List unions the live local inventory with the proxy's tracked remote
// agents, then applies the filters. With IncludeRemote each involved cluster
// is queried in parallel; an unreachable cluster falls back to the tracked
// entry so one dead cluster cannot fail the listing.
func (p *Proxy) List(ctx context.Context, opts ListOptions) ([]*Listing, error) {
	localAgents, err := p.local.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local agents: %w", err)
	}

	p.mu.RLock()
	remoteByCluster := make(map[string][]string)
	for id, loc := range p.locations {
		if !loc.isLocal {
			remoteByCluster[loc.clusterID] = append(remoteByCluster[loc.clusterID], id)
		}
	}
	p.mu.RUnlock()

	remoteAgents := p.remoteListings(ctx, remoteByCluster, opts.IncludeRemote)

	out := make([]*Listing, 0, len(localAgents)+len(remoteAgents))
	for _, a := range localAgents {
		if !matches(a, opts) {
			continue
		}
		out = append(out, p.annotate(a, true, "", opts))
	}
	for _, a := range remoteAgents {
		if !matches(a, opts) {
			continue
		}
		out = append(out, p.annotate(a, false, a.ClusterID, opts))
	}
	return out, nil
}

// remoteListings materializes the remote side of a listing. Without live
// fetch the tracked entries become minimal records with unknown status.
func (p *Proxy) remoteListings(ctx context.Context, byCluster map[string][]string, live bool) []*types.Agent {
	if len(byCluster) == 0 {
		return nil
	}

	if !live {
		var out []*types.Agent
		for clusterID, ids := range byCluster {
			for _, id := range ids {
				out = append(out, &types.Agent{
					ID:        id,
					ClusterID: clusterID,
					Status:    types.AgentStatusRunning,
				})
			}
		}
		return out
	}

	var mu sync.Mutex
	var out []*types.Agent

	g, gctx := errgroup.WithContext(ctx)
	for clusterID, ids := range byCluster {
		clusterID, ids := clusterID, ids
		g.Go(func() error {
			agents, err := p.liveClusterAgents(gctx, clusterID, ids)
			if err != nil {
				p.logger.Warn("live remote list failed, using tracked state",
					zap.String("cluster_id", clusterID), zap.Error(err))
				p.registry.ReportRemoteFailure(clusterID)
				agents = trackedFallback(clusterID, ids)
			}
			mu.Lock()
			out = append(out, agents...)
			mu.Unlock()
			// Errors are absorbed above so one dead cluster cannot cancel
			// the sibling fetches.
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// liveClusterAgents fetches a cluster's inventory and keeps the agents this
// proxy tracks there.
func (p *Proxy) liveClusterAgents(ctx context.Context, clusterID string, ids []string) ([]*types.Agent, error) {
	client, err := p.clientFor(clusterID)
	if err != nil {
		return nil, err
	}
	all, err := client.List(ctx)
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]bool, len(ids))
	for _, id := range ids {
		tracked[id] = true
	}

	out := make([]*types.Agent, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, a := range all {
		if tracked[a.ID] {
			a.ClusterID = clusterID
			out = append(out, a)
			seen[a.ID] = true
		}
	}
	// Tracked agents the cluster no longer reports surface as unknown
	// rather than silently disappearing.
	for _, id := range ids {
		if !seen[id] {
			out = append(out, &types.Agent{ID: id, ClusterID: clusterID, Status: types.AgentStatusUnknown})
		}
	}
	return out, nil
}

func trackedFallback(clusterID string, ids []string) []*types.Agent {
	out := make([]*types.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, &types.Agent{
			ID:        id,
			ClusterID: clusterID,
			Status:    types.AgentStatusRunning,
		})
	}
	return out
}

// annotate shapes one listing entry per the options.
func (p *Proxy) annotate(a *types.Agent, isLocal bool, clusterID string, opts ListOptions) *Listing {
	l := &Listing{Agent: a}
	if !opts.ShowCluster {
		return l
	}

	l.IsLocal = isLocal
	if isLocal {
		l.ClusterName = "local"
		return l
	}
	if c, ok := p.registry.Get(clusterID); ok {
		l.ClusterName = c.Name
	} else {
		l.ClusterName = clusterID
	}
	return l
}

// matches applies the status and label filters. Labels use AND semantics.
func matches(a *types.Agent, opts ListOptions) bool {
	if opts.Status != "" && a.Status != opts.Status {
		return false
	}
	for k, v := range opts.Labels {
		if a.Labels[k] != v {
			return false
		}
	}
	return true
}

// GetStats summarizes tracking state and registry size.
func (p *Proxy) GetStats() Stats {
	p.mu.RLock()
	var local, remoteCount int
	for _, loc := range p.locations {
		if loc.isLocal {
			local++
		} else {
			remoteCount++
		}
	}
	p.mu.RUnlock()

	return Stats{
		TrackedLocalAgents:  local,
		TrackedRemoteAgents: remoteCount,
		TotalTracked:        local + remoteCount,
		RegisteredClusters:  len(p.registry.Clusters()),
	}
}

// lookup reads the location map.
func (p *Proxy) lookup(agentID string) (location, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	loc, ok := p.locations[agentID]
	return loc, ok
}

// clientFor resolves the remote client for a tracked cluster id.
func (p *Proxy) clientFor(clusterID string) (remote.Client, error) {
	c, ok := p.registry.Get(clusterID)
	if !ok {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("cluster %s is no longer registered", clusterID))
	}
	client, err := p.dialer.Dial(c.Endpoint)
	if err != nil {
		return nil, types.NewError(types.ErrTransientRemote,
			fmt.Sprintf("failed to dial cluster %s", clusterID)).WithCause(err).WithCluster(clusterID)
	}
	return client, nil
}

// Dispose clears the location map and detaches listeners. Safe to call
// multiple times.
func (p *Proxy) Dispose() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.locations = make(map[string]location)
		p.mu.Unlock()
		p.bus.Close()
		p.logger.Info("cluster proxy disposed")
	})
}
