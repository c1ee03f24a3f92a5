// Package store provides key-value stores for the persisted location slot.
package store

import (
	"context"
	"sync"
)

// Memory is an in-process key-value store. Its contents do not survive a
// restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// CheckReadiness always succeeds.
func (m *Memory) CheckReadiness(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
