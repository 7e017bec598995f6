package observation

import (
	"sync"

	"helmdb/internal/contract"
)

// ConnKey is an ordered (observer, observed) pair. Its presence in the map
// means "the coordinator can see observer, and observer can see observed".
type ConnKey struct {
	Observer contract.ServerID
	Observed contract.ServerID
}

// ConnectionsMap is the concurrent server-to-server connectivity matrix.
type ConnectionsMap struct {
	mu     sync.RWMutex
	conns  map[ConnKey]struct{}
	notify []func()
}

// NewConnectionsMap returns an empty matrix.
func NewConnectionsMap() *ConnectionsMap {
	return &ConnectionsMap{conns: make(map[ConnKey]struct{})}
}

// OnChange registers fn to run after every mutation.
func (m *ConnectionsMap) OnChange(fn func()) {
	m.mu.Lock()
	m.notify = append(m.notify, fn)
	m.mu.Unlock()
}

// Set records that observer currently sees observed.
func (m *ConnectionsMap) Set(observer, observed contract.ServerID) {
	m.mu.Lock()
	m.conns[ConnKey{Observer: observer, Observed: observed}] = struct{}{}
	notify := m.notify
	m.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// Unset records that observer lost sight of observed.
func (m *ConnectionsMap) Unset(observer, observed contract.ServerID) {
	m.mu.Lock()
	delete(m.conns, ConnKey{Observer: observer, Observed: observed})
	notify := m.notify
	m.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// ReplaceObserver atomically replaces the full row reported by observer.
func (m *ConnectionsMap) ReplaceObserver(observer contract.ServerID, observed []contract.ServerID) {
	m.mu.Lock()
	for key := range m.conns {
		if key.Observer == observer {
			delete(m.conns, key)
		}
	}
	for _, o := range observed {
		m.conns[ConnKey{Observer: observer, Observed: o}] = struct{}{}
	}
	notify := m.notify
	m.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// GetKey reports whether observer currently sees observed.
func (m *ConnectionsMap) GetKey(observer, observed contract.ServerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[ConnKey{Observer: observer, Observed: observed}]
	return ok
}
