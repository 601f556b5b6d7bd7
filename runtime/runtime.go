// Package runtime defines the local execution backend consumed by the
// federation core, together with an in-memory implementation.
package runtime

import (
	"context"

	"github.com/davidkimai/godel-sub021/types"
)

// LocalRuntime is the always-available host execution backend for agents.
// The federation core never touches host resources directly; everything
// local goes through this interface.
type LocalRuntime interface {
	// Spawn starts an agent and returns its record.
	Spawn(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error)

	// Kill terminates an agent.
	Kill(ctx context.Context, agentID string) error

	// Exec runs a command inside an agent.
	Exec(ctx context.Context, agentID, command string) (*types.ExecResult, error)

	// List returns all agents currently running on this backend.
	List(ctx context.Context) ([]*types.Agent, error)

	// Capacity reports how much more work this backend can accept.
	Capacity(ctx context.Context) (types.Capacity, error)
}
