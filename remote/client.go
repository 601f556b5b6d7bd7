// Package remote defines the client used to reach a remote cluster's agent
// API. The federation core is transport-agnostic: anything satisfying Client
// can back a cluster, and the default implementation speaks JSON over HTTP.
package remote

import (
	"context"
	"sync"

	"github.com/davidkimai/godel-sub021/types"
)

// Client exposes a remote cluster's agent operations. It mirrors the local
// runtime surface, reached at the cluster's endpoint.
type Client interface {
	Spawn(ctx context.Context, cfg types.SpawnConfig) (*types.Agent, error)
	Kill(ctx context.Context, agentID string) error
	Exec(ctx context.Context, agentID, command string) (*types.ExecResult, error)
	List(ctx context.Context) ([]*types.Agent, error)
}

// Dialer produces a Client for a cluster endpoint (host:port).
type Dialer interface {
	Dial(endpoint string) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(endpoint string) (Client, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(endpoint string) (Client, error) { return f(endpoint) }

// CachingDialer wraps a Dialer and reuses one Client per endpoint.
type CachingDialer struct {
	inner Dialer

	mu      sync.Mutex
	clients map[string]Client
}

// NewCachingDialer wraps inner with per-endpoint client reuse.
func NewCachingDialer(inner Dialer) *CachingDialer {
	return &CachingDialer{
		inner:   inner,
		clients: make(map[string]Client),
	}
}

// Dial implements Dialer.
func (d *CachingDialer) Dial(endpoint string) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[endpoint]; ok {
		return c, nil
	}
	c, err := d.inner.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	d.clients[endpoint] = c
	return c, nil
}
