package presence

import (
	"sort"
	"sync"
)

// Registry tracks which users currently have at least one live session.
// Presence is derived purely from live connections; the registry starts empty
// on every process restart.
type Registry interface {
	// MarkOnline records one live session for the user and reports whether
	// the user transitioned from offline to online.
	MarkOnline(userID int64) bool
	// MarkOffline drops one live session for the user and reports whether
	// the user transitioned to fully offline.
	MarkOffline(userID int64) bool
	IsOnline(userID int64) bool
	Snapshot() []int64
}

// MemoryRegistry counts live sessions per user so a user with several open
// tabs stays online until the last one closes.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]int
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[int64]int)}
}

func (r *MemoryRegistry) MarkOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID]++
	return r.sessions[userID] == 1
}

func (r *MemoryRegistry) MarkOffline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, ok := r.sessions[userID]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(r.sessions, userID)
		return true
	}
	r.sessions[userID] = count - 1
	return false
}

func (r *MemoryRegistry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID] > 0
}

// Snapshot returns the online user ids in ascending order.
func (r *MemoryRegistry) Snapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
