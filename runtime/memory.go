package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidkimai/godel-sub021/types"
)

// MemoryRuntime is an in-process LocalRuntime implementation. It keeps agent
// records in memory and models command execution without touching the host.
// It is the default local backend of the daemon and the backend used by the
// federation core's tests.
type MemoryRuntime struct {
	mu        sync.RWMutex
	agents    map[string]*types.Agent
	maxAgents int
	logger    *zap.Logger
}

// NewMemoryRuntime creates a runtime that accepts up to maxAgents concurrent
// agents. maxAgents <= 0 falls back to 8.
func NewMemoryRuntime(maxAgents int, logger *zap.Logger) *MemoryRuntime {
	if maxAgents <= 0 {
		maxAgents = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryRuntime{
		agents:    make(map[string]*types.Agent),
		maxAgents: maxAgents,
		logger:    logger.With(zap.String("component", "local_runtime")),
	}
}

// Spawn implements LocalRuntime.
func (r *MemoryRuntime) Spawn(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.agents) >= r.maxAgents {
		return nil, types.NewError(types.ErrCapacityExhausted,
			fmt.Sprintf("local runtime full: %d/%d agents", len(r.agents), r.maxAgents))
	}

	id := cfg.AgentID
	if id == "" {
		id = "agent-" + uuid.NewString()
	}
	if _, exists := r.agents[id]; exists {
		return nil, types.NewError(types.ErrValidation, fmt.Sprintf("agent %s already running", id))
	}

	agent := &types.Agent{
		ID:        id,
		Status:    types.AgentStatusRunning,
		Model:     cfg.Model,
		StartedAt: time.Now(),
		Labels:    copyLabels(cfg.Labels),
	}
	r.agents[id] = agent

	r.logger.Info("agent spawned",
		zap.String("agent_id", id),
		zap.String("model", cfg.Model),
	)

	return cloneAgent(agent), nil
}

// Kill implements LocalRuntime.
func (r *MemoryRuntime) Kill(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("%s not found", agentID))
	}
	delete(r.agents, agentID)

	r.logger.Info("agent killed", zap.String("agent_id", agentID))
	return nil
}

// Exec implements LocalRuntime.
func (r *MemoryRuntime) Exec(ctx context.Context, agentID, command string) (*types.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, ok := r.agents[agentID]
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("%s not found", agentID))
	}

	return &types.ExecResult{
		Output:   fmt.Sprintf("[%s] %s\n", agentID, command),
		ExitCode: 0,
	}, nil
}

// List implements LocalRuntime.
func (r *MemoryRuntime) List(ctx context.Context) ([]*types.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, cloneAgent(a))
	}
	return agents, nil
}

// Capacity implements LocalRuntime.
func (r *MemoryRuntime) Capacity(ctx context.Context) (types.Capacity, error) {
	if err := ctx.Err(); err != nil {
		return types.Capacity{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	active := len(r.agents)
	return types.Capacity{
		Max:       r.maxAgents,
		Available: r.maxAgents - active,
		Load:      float64(active) / float64(r.maxAgents),
	}, nil
}

func cloneAgent(a *types.Agent) *types.Agent {
	c := *a
	c.Labels = copyLabels(a.Labels)
	return &c
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Ensure MemoryRuntime implements LocalRuntime.
var _ LocalRuntime = (*MemoryRuntime)(nil)
