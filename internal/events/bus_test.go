package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishRoutesByKind(t *testing.T) {
	b := NewBus()

	var spawned []AgentSpawned
	var killed []AgentKilled
	b.Subscribe(KindAgentSpawned, func(e Event) {
		spawned = append(spawned, e.(AgentSpawned))
	})
	b.Subscribe(KindAgentKilled, func(e Event) {
		killed = append(killed, e.(AgentKilled))
	})

	b.Publish(AgentSpawned{AgentID: "a1", IsLocal: true})
	b.Publish(AgentKilled{AgentID: "a1"})

	assert.Equal(t, []AgentSpawned{{AgentID: "a1", IsLocal: true}}, spawned)
	assert.Equal(t, []AgentKilled{{AgentID: "a1"}}, killed)
}

func TestBus_MultipleHandlersPerKind(t *testing.T) {
	b := NewBus()

	count := 0
	b.Subscribe(KindClusterRegistered, func(Event) { count++ })
	b.Subscribe(KindClusterRegistered, func(Event) { count++ })

	b.Publish(ClusterRegistered{ClusterID: "c1"})
	assert.Equal(t, 2, count)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()

	count := 0
	id := b.Subscribe(KindClusterUnregistered, func(Event) { count++ })

	b.Publish(ClusterUnregistered{ClusterID: "c1"})
	b.Unsubscribe(KindClusterUnregistered, id)
	b.Publish(ClusterUnregistered{ClusterID: "c1"})

	assert.Equal(t, 1, count)

	// Unsubscribing twice is harmless.
	b.Unsubscribe(KindClusterUnregistered, id)
}

func TestBus_CloseSuppressesPublish(t *testing.T) {
	b := NewBus()

	count := 0
	b.Subscribe(KindAgentSpawned, func(Event) { count++ })

	b.Close()
	b.Publish(AgentSpawned{AgentID: "a1"})
	assert.Zero(t, count)

	b.Close()
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := NewBus()
	b.Publish(AgentKilled{AgentID: "a1"})
}
