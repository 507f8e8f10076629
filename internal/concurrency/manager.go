// Package concurrency keeps one live streaming run per caller and target.
package concurrency

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrBusy means the key is already held
	ErrBusy = errors.New("slot already held")
	// ErrLimit means every slot is taken
	ErrLimit = errors.New("slot limit reached")
)

// Manager hands out exclusive run slots by key and caps how many slots are
// held at once. A limit of zero means no cap.
type Manager struct {
	mu    sync.Mutex
	held  map[string]struct{}
	limit int
}

// NewManager creates a manager allowing at most limit concurrent slots
func NewManager(limit int) *Manager {
	return &Manager{held: make(map[string]struct{}), limit: max(limit, 0)}
}

// StreamKey builds the slot key for identity streaming target in mode.
// The target is matched case-insensitively.
func StreamKey(identity, target, mode string) string {
	return identity + "|" + strings.ToLower(strings.TrimSpace(target)) + "|" + mode
}

// Acquire takes the slot for key, returning ErrBusy when the key is held
// and ErrLimit when the manager is full.
func (m *Manager) Acquire(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[key]; busy {
		return ErrBusy
	}
	if m.limit > 0 && len(m.held) >= m.limit {
		return ErrLimit
	}
	m.held[key] = struct{}{}
	return nil
}

// Release frees the slot. Releasing a free key is a no-op.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()
}

// Active returns the number of held slots
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
