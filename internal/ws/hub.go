package ws

import (
	"log"
	"sync"

	"messenger-service/internal/models"
)

// Hub maintains the broadcast groups, one per connected user id. A user with
// several open tabs has several sessions in the same group, so targeting a
// user id reaches every tab transparently.
type Hub struct {
	mu     sync.RWMutex
	groups map[int64]map[*Session]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[int64]map[*Session]bool)}
}

// Register adds a session to its user's broadcast group.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[s.userID]; !ok {
		h.groups[s.userID] = make(map[*Session]bool)
	}
	h.groups[s.userID][s] = true
}

// Unregister removes a session, dropping the group when it empties.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.groups[s.userID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.groups, s.userID)
		}
	}
}

// SendToUser delivers an event to every session in the user's group. Sessions
// that stopped draining their buffer are closed; their read pumps clean up.
func (h *Hub) SendToUser(userID int64, event models.ServerEvent) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.groups[userID]))
	for s := range h.groups[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.queue(event) {
			log.Printf("dropping slow session for user %d", userID)
			s.close()
		}
	}
}

// BroadcastAll delivers an event to every connected session.
func (h *Hub) BroadcastAll(event models.ServerEvent) {
	h.mu.RLock()
	sessions := make([]*Session, 0)
	for _, group := range h.groups {
		for s := range group {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.queue(event) {
			log.Printf("dropping slow session for user %d", s.userID)
			s.close()
		}
	}
}
