package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Hub is the process-local session registry: participants to their live
// handles, and chat rooms to the handles subscribed to them. Authoritative
// only within one process; multi-instance routing lives behind the transport.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Session // userID -> connID -> session
	rooms  map[string]map[string]*Session // chatID -> connID -> session
	joined map[string]map[string]bool     // connID -> set of chatIDs, for cleanup
	log    *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		byUser: make(map[string]map[string]*Session),
		rooms:  make(map[string]map[string]*Session),
		joined: make(map[string]map[string]bool),
		log:    log,
	}
}

// Add registers a joined session under its participant. Idempotent.
func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byUser[s.UserID]; !ok {
		h.byUser[s.UserID] = make(map[string]*Session)
	}
	h.byUser[s.UserID][s.ID] = s
	if _, ok := h.joined[s.ID]; !ok {
		h.joined[s.ID] = make(map[string]bool)
	}
}

// Remove drops the session from the registry and every room it joined.
// Returns true when this was the participant's last live handle.
func (h *Hub) Remove(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID := range h.joined[s.ID] {
		if room, ok := h.rooms[chatID]; ok {
			delete(room, s.ID)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	delete(h.joined, s.ID)
	if conns, ok := h.byUser[s.UserID]; ok {
		delete(conns, s.ID)
		if len(conns) == 0 {
			delete(h.byUser, s.UserID)
			return true
		}
	}
	return false
}

// JoinRoom subscribes the session to a chat room. Idempotent.
func (h *Hub) JoinRoom(chatID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[string]*Session)
	}
	h.rooms[chatID][s.ID] = s
	if _, ok := h.joined[s.ID]; !ok {
		h.joined[s.ID] = make(map[string]bool)
	}
	h.joined[s.ID][chatID] = true
}

// LeaveRoom unsubscribes the session from a chat room.
func (h *Hub) LeaveRoom(chatID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[chatID]; ok {
		delete(room, s.ID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(h.joined[s.ID], chatID)
}

// IsSubscribed reports whether any currently joined handle of the
// participant is subscribed to the chat's room. Presence in the room is the
// read-proof proxy used by the send path.
func (h *Hub) IsSubscribed(userID, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[chatID]
	if !ok {
		return false
	}
	for _, s := range room {
		if s.UserID == userID && s.Joined() {
			return true
		}
	}
	return false
}

// SendToUser fans a frame out to every live handle of the participant.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.byUser[userID] {
		if !s.Push(payload) && h.log != nil {
			h.log.Warnw("dropped frame for slow session", "user", userID, "conn", s.ID)
		}
	}
}

// SendToRoom fans a frame out to every handle subscribed to the chat room.
func (h *Hub) SendToRoom(chatID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.rooms[chatID] {
		if !s.Push(payload) && h.log != nil {
			h.log.Warnw("dropped frame for slow session", "chat", chatID, "conn", s.ID)
		}
	}
}

// SessionsOf returns the participant's current live handles.
func (h *Hub) SessionsOf(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		out = append(out, s)
	}
	return out
}

// HandleCount returns the number of live handles for a participant.
func (h *Hub) HandleCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
