// Package presence tracks driver availability: the flag a driver toggles
// when going on or off shift, consulted before assignment, plus a last-seen
// timestamp refreshed by the location ingest consumer.
package presence

import (
	"context"
	"sync"
	"time"
)

// Store is implemented by the Redis-backed store in production and by
// Memory when REDIS_ADDR is unset.
type Store interface {
	SetAvailable(ctx context.Context, driverID string, available bool) error
	Available(ctx context.Context, driverID string) (bool, error)
	Touch(ctx context.Context, driverID string, at time.Time) error
}

type driverMeta struct {
	available bool
	lastSeen  time.Time
}

// Memory is the in-process fallback store.
type Memory struct {
	mu      sync.RWMutex
	drivers map[string]driverMeta
}

func NewMemory() *Memory {
	return &Memory{drivers: make(map[string]driverMeta)}
}

func (m *Memory) SetAvailable(_ context.Context, driverID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.drivers[driverID]
	meta.available = available
	m.drivers[driverID] = meta
	return nil
}

func (m *Memory) Available(_ context.Context, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drivers[driverID].available, nil
}

func (m *Memory) Touch(_ context.Context, driverID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.drivers[driverID]
	meta.lastSeen = at
	m.drivers[driverID] = meta
	return nil
}

// LastSeen is used by tests and health tooling.
func (m *Memory) LastSeen(driverID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.drivers[driverID]
	return meta.lastSeen, ok
}
