package observation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"helmdb/internal/contract"
	"helmdb/internal/observation"
)

func TestAckMapNotifiesAndReads(t *testing.T) {
	m := observation.NewAckMap()
	changes := 0
	m.OnChange(func() { changes++ })

	server := contract.NewServerID()
	c1, c2 := contract.NewID(), contract.NewID()
	m.Set(observation.AckKey{Server: server, Contract: c1}, &contract.Ack{State: contract.AckSecondaryStreaming})
	m.Set(observation.AckKey{Server: server, Contract: c2}, &contract.Ack{State: contract.AckNothing})
	require.Equal(t, 2, changes)

	seen := 0
	m.ReadAll(func(key observation.AckKey, ack *contract.Ack) {
		require.Equal(t, server, key.Server)
		seen++
	})
	require.Equal(t, 2, seen)

	m.DropContract(c1)
	if _, ok := m.Get(observation.AckKey{Server: server, Contract: c1}); ok {
		t.Fatalf("ack for dropped contract still present")
	}
	if _, ok := m.Get(observation.AckKey{Server: server, Contract: c2}); !ok {
		t.Fatalf("unrelated ack was dropped")
	}
}

func TestConnectionsMapReplaceObserver(t *testing.T) {
	m := observation.NewConnectionsMap()
	a, b, c := contract.NewServerID(), contract.NewServerID(), contract.NewServerID()

	m.Set(a, b)
	require.True(t, m.GetKey(a, b))
	require.False(t, m.GetKey(b, a))

	m.ReplaceObserver(a, []contract.ServerID{a, c})
	require.False(t, m.GetKey(a, b))
	require.True(t, m.GetKey(a, a))
	require.True(t, m.GetKey(a, c))

	m.Unset(a, c)
	require.False(t, m.GetKey(a, c))
}
