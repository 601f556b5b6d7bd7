// Package mocks provides test doubles for the federation's external
// collaborators: the remote cluster client and a scriptable local runtime.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidkimai/godel-sub021/remote"
	"github.com/davidkimai/godel-sub021/types"
)

// ClusterClient is an in-memory remote.Client with error injection.
type ClusterClient struct {
	mu sync.Mutex

	agents  map[string]*types.Agent
	nextSeq int

	// SpawnErr/KillErr/ExecErr/ListErr, when set, are returned instead of
	// the in-memory behavior.
	SpawnErr error
	KillErr  error
	ExecErr  error
	ListErr  error

	// FailSpawns fails this many spawns before succeeding.
	FailSpawns int

	SpawnCalls int
	KillCalls  int
	ExecCalls  int
	ListCalls  int
}

// NewClusterClient creates an empty mock cluster backend.
func NewClusterClient() *ClusterClient {
	return &ClusterClient{agents: make(map[string]*types.Agent)}
}

// Spawn implements remote.Client.
func (c *ClusterClient) Spawn(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SpawnCalls++
	if c.SpawnErr != nil {
		return nil, c.SpawnErr
	}
	if c.FailSpawns > 0 {
		c.FailSpawns--
		return nil, types.NewError(types.ErrTransientRemote, "injected spawn failure")
	}

	id := cfg.AgentID
	if id == "" {
		c.nextSeq++
		id = fmt.Sprintf("remote-agent-%d", c.nextSeq)
	}
	agent := &types.Agent{
		ID:        id,
		Status:    types.AgentStatusRunning,
		Model:     cfg.Model,
		StartedAt: time.Now(),
		Labels:    cfg.Labels,
	}
	c.agents[id] = agent
	out := *agent
	return &out, nil
}

// Kill implements remote.Client.
func (c *ClusterClient) Kill(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.KillCalls++
	if c.KillErr != nil {
		return c.KillErr
	}
	if _, ok := c.agents[agentID]; !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("%s not found", agentID))
	}
	delete(c.agents, agentID)
	return nil
}

// Exec implements remote.Client.
func (c *ClusterClient) Exec(ctx context.Context, agentID, command string) (*types.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ExecCalls++
	if c.ExecErr != nil {
		return nil, c.ExecErr
	}
	if _, ok := c.agents[agentID]; !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("%s not found", agentID))
	}
	return &types.ExecResult{Output: "remote: " + command, ExitCode: 0}, nil
}

// List implements remote.Client.
func (c *ClusterClient) List(ctx context.Context) ([]*types.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ListCalls++
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		copy := *a
		out = append(out, &copy)
	}
	return out, nil
}

// Agents returns a snapshot of the backend's agent map.
func (c *ClusterClient) Agents() map[string]*types.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*types.Agent, len(c.agents))
	for id, a := range c.agents {
		copy := *a
		out[id] = &copy
	}
	return out
}

// Dialer maps endpoints to mock clients.
type Dialer struct {
	mu      sync.Mutex
	clients map[string]*ClusterClient

	// DialErr, when set, fails every Dial.
	DialErr error
}

// NewDialer creates an empty dialer; Register adds backends.
func NewDialer() *Dialer {
	return &Dialer{clients: make(map[string]*ClusterClient)}
}

// Register binds a mock client to an endpoint and returns it.
func (d *Dialer) Register(endpoint string) *ClusterClient {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := NewClusterClient()
	d.clients[endpoint] = c
	return c
}

// Dial implements remote.Dialer.
func (d *Dialer) Dial(endpoint string) (remote.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if c, ok := d.clients[endpoint]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no mock backend for endpoint %s", endpoint)
}

// Ensure the mocks satisfy the interfaces.
var (
	_ remote.Client = (*ClusterClient)(nil)
	_ remote.Dialer = (*Dialer)(nil)
)
