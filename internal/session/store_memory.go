package session

import (
	"context"
	"sync"

	"tuitionmatch/pkg/sentinel"
)

// Memory is a mutex-guarded Store for tests and dev mode.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

// NewMemory constructs an empty in-memory session store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[string]string)}
}

func (m *Memory) Get(ctx context.Context, sessionID, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.sessions[sessionID][key]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return value, nil
}

func (m *Memory) Set(ctx context.Context, sessionID, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] == nil {
		m.sessions[sessionID] = make(map[string]string)
	}
	m.sessions[sessionID][key] = value
	return nil
}

func (m *Memory) Delete(ctx context.Context, sessionID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions[sessionID], key)
	return nil
}
