// Package cluster implements the federation catalog: cluster registration,
// health bookkeeping, and the placement scoring used to pick the best remote
// backend for an agent workload.
package cluster

import "time"

// Status represents the health status of a registered cluster.
type Status string

const (
	// StatusActive indicates the cluster is healthy and selectable.
	StatusActive Status = "active"
	// StatusDegraded indicates the cluster missed heartbeats or failed a
	// remote call; it is excluded from placement until it recovers.
	StatusDegraded Status = "degraded"
	// StatusOffline indicates the cluster is considered gone.
	StatusOffline Status = "offline"
)

// Priority selects which scoring dimension a placement favors.
type Priority string

const (
	// PriorityLatency weights network latency highest.
	PriorityLatency Priority = "latency"
	// PriorityCost weights hourly cost highest.
	PriorityCost Priority = "cost"
)

// Capabilities is a cluster's point-in-time resource description, reported
// and refreshed by the cluster itself. The registry only reads and scores it.
type Capabilities struct {
	MaxAgents       int      `json:"max_agents"`
	AvailableAgents int      `json:"available_agents"`
	ActiveAgents    int      `json:"active_agents"`
	GPUEnabled      bool     `json:"gpu_enabled"`
	GPUTypes        []string `json:"gpu_types,omitempty"`
	CostPerHour     float64  `json:"cost_per_hour"`
	LatencyMs       float64  `json:"latency_ms"`
	// Flags is an open extension map for capabilities the core does not
	// interpret.
	Flags map[string]string `json:"flags,omitempty"`
}

// HasGPUType reports whether the cluster offers the given GPU type. An empty
// type matches any GPU-enabled cluster.
func (c Capabilities) HasGPUType(gpuType string) bool {
	if !c.GPUEnabled {
		return false
	}
	if gpuType == "" {
		return true
	}
	for _, t := range c.GPUTypes {
		if t == gpuType {
			return true
		}
	}
	return false
}

// Metadata is descriptive, non-functional cluster information.
type Metadata struct {
	Version     string   `json:"version,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Cluster is a registered remote execution backend.
type Cluster struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Endpoint      string       `json:"endpoint"`
	Region        string       `json:"region,omitempty"`
	Status        Status       `json:"status"`
	Capabilities  Capabilities `json:"capabilities"`
	Metadata      Metadata     `json:"metadata"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	RegisteredAt  time.Time    `json:"registered_at"`
}

// clone returns a deep copy so callers can never mutate registry state.
func (c *Cluster) clone() *Cluster {
	out := *c
	if c.Capabilities.GPUTypes != nil {
		out.Capabilities.GPUTypes = append([]string(nil), c.Capabilities.GPUTypes...)
	}
	if c.Capabilities.Flags != nil {
		out.Capabilities.Flags = make(map[string]string, len(c.Capabilities.Flags))
		for k, v := range c.Capabilities.Flags {
			out.Capabilities.Flags[k] = v
		}
	}
	if c.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), c.Metadata.Tags...)
	}
	return &out
}

// PlacementCriteria is an ephemeral placement query, constructed per
// decision and never persisted.
type PlacementCriteria struct {
	// Priority picks the primary scoring dimension. Defaults to cost.
	Priority Priority
	// RequiresGPU restricts candidates to GPU-enabled clusters.
	RequiresGPU bool
	// GPUType further restricts GPU candidates to a specific type.
	GPUType string
	// MaxLatencyMs excludes clusters above this latency. Zero means no cap.
	MaxLatencyMs float64
	// MinAgents is the minimum free capacity a candidate must report.
	// Values below 1 are treated as 1.
	MinAgents int
}

// Stats summarizes the registry contents.
type Stats struct {
	TotalClusters     int `json:"total_clusters"`
	ActiveClusters    int `json:"active_clusters"`
	DegradedClusters  int `json:"degraded_clusters"`
	TotalCapacity     int `json:"total_capacity"`
	AvailableCapacity int `json:"available_capacity"`
	GPUClusters       int `json:"gpu_clusters"`
}
