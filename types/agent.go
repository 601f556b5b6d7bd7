package types

import "time"

// AgentStatus represents the lifecycle status of an agent workload.
type AgentStatus string

const (
	// AgentStatusRunning indicates the agent is executing.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusStopped indicates the agent has been killed or exited.
	AgentStatusStopped AgentStatus = "stopped"
	// AgentStatusUnknown indicates the backend could not report a status.
	AgentStatusUnknown AgentStatus = "unknown"
)

// Agent is a runtime unit placed on the local host or a remote cluster.
// The backend that runs the agent is the source of truth for Status; the
// proxy's location index is the source of truth for routing.
type Agent struct {
	ID string `json:"id"`
	// ClusterID is empty for agents running on the local runtime.
	ClusterID string            `json:"cluster_id,omitempty"`
	Status    AgentStatus       `json:"status"`
	Model     string            `json:"model"`
	StartedAt time.Time         `json:"started_at"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// SpawnConfig is the caller-supplied request to start an agent.
type SpawnConfig struct {
	Model  string            `json:"model"`
	Labels map[string]string `json:"labels,omitempty"`
	// Timeout bounds how long a placement attempt may take before being
	// treated as failed.
	Timeout     time.Duration `json:"timeout,omitempty"`
	RequiresGPU bool          `json:"requires_gpu,omitempty"`
	GPUType     string        `json:"gpu_type,omitempty"`
	// AgentID pins the agent identity. Left empty for normal spawns; set
	// by the migration sweep so a relocated agent keeps its id.
	AgentID string `json:"agent_id,omitempty"`
}

// ExecResult is the outcome of running a command inside an agent.
type ExecResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// Capacity is a backend's self-reported ability to accept more work.
type Capacity struct {
	Max       int     `json:"max"`
	Available int     `json:"available"`
	Load      float64 `json:"load"`
}
