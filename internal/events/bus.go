// Package events provides a typed publish/subscribe bus for federation
// lifecycle events. Each event kind carries a strongly typed payload and
// subscribers register one handler per kind.
package events

import (
	"sync"
)

// Kind identifies an event type on the bus. The set is closed.
type Kind string

const (
	// KindClusterRegistered fires when a cluster joins the federation.
	KindClusterRegistered Kind = "cluster:registered"
	// KindClusterUnregistered fires when a cluster leaves the federation.
	KindClusterUnregistered Kind = "cluster:unregistered"
	// KindAgentSpawned fires when an agent has been placed and started.
	KindAgentSpawned Kind = "agent:spawned"
	// KindAgentKilled fires when an agent has been terminated.
	KindAgentKilled Kind = "agent:killed"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	EventKind() Kind
}

// ClusterRegistered is published after a successful registration.
type ClusterRegistered struct {
	ClusterID string
	Name      string
	Endpoint  string
}

// EventKind implements Event.
func (ClusterRegistered) EventKind() Kind { return KindClusterRegistered }

// ClusterUnregistered is published after a cluster is removed.
type ClusterUnregistered struct {
	ClusterID string
}

// EventKind implements Event.
func (ClusterUnregistered) EventKind() Kind { return KindClusterUnregistered }

// AgentSpawned is published after an agent has been placed.
type AgentSpawned struct {
	AgentID   string
	ClusterID string
	IsLocal   bool
}

// EventKind implements Event.
func (AgentSpawned) EventKind() Kind { return KindAgentSpawned }

// AgentKilled is published after an agent has been terminated.
type AgentKilled struct {
	AgentID string
}

// EventKind implements Event.
func (AgentKilled) EventKind() Kind { return KindAgentKilled }

// Handler receives published events. Fan-out is synchronous: a slow handler
// delays the emitting call, so handlers must be non-blocking or hand off to
// their own goroutine.
type Handler func(Event)

// Bus is a typed in-process event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind]map[int]Handler
	nextID   int
	closed   bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind]map[int]Handler)}
}

// Subscribe registers a handler for one event kind and returns a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(kind Kind, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][b.nextID] = h
	return b.nextID
}

// Unsubscribe detaches a previously registered handler.
func (b *Bus) Unsubscribe(kind Kind, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hs, ok := b.handlers[kind]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(b.handlers, kind)
		}
	}
}

// Publish delivers the event to every handler registered for its kind.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	hs := b.handlers[e.EventKind()]
	handlers := make([]Handler, 0, len(hs))
	for _, h := range hs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Close detaches all handlers and suppresses further emission. Safe to call
// multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.handlers = make(map[Kind]map[int]Handler)
}
