// Package store persists the voice channel each guild should be connected to.
package store

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Store is a closable voice target store.
type Store interface {
	Get(ctx context.Context, guildID snowflake.ID) (snowflake.ID, bool, error)
	Set(ctx context.Context, guildID, channelID snowflake.ID) error
	Clear(ctx context.Context, guildID snowflake.ID) error
	All(ctx context.Context) (map[snowflake.ID]snowflake.ID, error)
	Close() error
}

// Open returns a SQLite store at path, or a memory store when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return OpenSQLite(path)
}

// Memory is an in-process voice target store. Targets are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	targets map[snowflake.ID]snowflake.ID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{targets: make(map[snowflake.ID]snowflake.ID)}
}

func (m *Memory) Get(ctx context.Context, guildID snowflake.ID) (snowflake.ID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.targets[guildID]
	return ch, ok, nil
}

func (m *Memory) Set(ctx context.Context, guildID, channelID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[guildID] = channelID
	return nil
}

func (m *Memory) Clear(ctx context.Context, guildID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, guildID)
	return nil
}

// All returns every stored target.
func (m *Memory) All(ctx context.Context) (map[snowflake.ID]snowflake.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[snowflake.ID]snowflake.ID, len(m.targets))
	for g, ch := range m.targets {
		out[g] = ch
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
