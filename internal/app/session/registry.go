package session

import (
	"sort"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/osa030/encore/internal/app/playback"
)

// entry is a live controller and the queue feeding it backend events in order.
type entry struct {
	ctrl   *playback.Controller
	events chan playback.Event
}

// Registry holds one controller per guild with thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	entries map[snowflake.ID]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[snowflake.ID]*entry),
	}
}

// getOrCreate returns the guild's entry, creating it with create when missing.
// created reports whether create ran.
func (r *Registry) getOrCreate(guildID snowflake.ID, create func() *entry) (e *entry, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[guildID]; ok {
		return e, false
	}
	e = create()
	r.entries[guildID] = e
	return e, true
}

func (r *Registry) get(guildID snowflake.ID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[guildID]
	return e, ok
}

// Get returns the guild's controller.
func (r *Registry) Get(guildID snowflake.ID) (*playback.Controller, bool) {
	e, ok := r.get(guildID)
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// remove deletes the guild's entry only if it still holds ctrl.
func (r *Registry) remove(guildID snowflake.ID, ctrl *playback.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[guildID]; ok && e.ctrl == ctrl {
		delete(r.entries, guildID)
	}
}

// All returns every controller, ordered by guild ID.
func (r *Registry) All() []*playback.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]snowflake.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]*playback.Controller, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.entries[id].ctrl)
	}
	return result
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
