package websocket

import (
	"sort"
	"sync"

	"chat-notify/internal/models"
	"chat-notify/pkg/logger"
)

// Handle is one live connection that can receive payloads.
type Handle interface {
	ID() string
	Send(payload []byte) error
}

// Registry maps users to their live handles. The lock only guards the maps;
// sends happen outside it.
type Registry struct {
	mu    sync.Mutex
	users map[int]map[string]Handle
	log   *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		users: make(map[int]map[string]Handle),
		log:   log.With("component", "registry"),
	}
}

// Connect adds h to the user's handles. Connecting the same handle again
// replaces it.
func (r *Registry) Connect(userID int, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.users[userID]
	if !ok {
		handles = make(map[string]Handle)
		r.users[userID] = handles
	}
	handles[h.ID()] = h
	r.log.Debug("Connected session %s for user %d (%d live)", h.ID(), userID, len(handles))
}

// Disconnect removes h and drops the user entry once it is empty. Unknown
// users and handles are ignored.
func (r *Registry) Disconnect(userID int, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID, h)
}

func (r *Registry) removeLocked(userID int, h Handle) bool {
	handles, ok := r.users[userID]
	if !ok {
		return false
	}
	if current, ok := handles[h.ID()]; !ok || current != h {
		return false
	}
	delete(handles, h.ID())
	if len(handles) == 0 {
		delete(r.users, userID)
	}
	r.log.Debug("Disconnected session %s for user %d", h.ID(), userID)
	return true
}

// SendToUser delivers payload to every handle of the user and returns how
// many accepted it. Handles that fail are disconnected.
func (r *Registry) SendToUser(userID int, payload []byte) int {
	r.mu.Lock()
	targets := make([]Handle, 0, len(r.users[userID]))
	for _, h := range r.users[userID] {
		targets = append(targets, h)
	}
	r.mu.Unlock()

	return r.deliver(userID, targets, payload)
}

// Broadcast delivers payload to every registered handle.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.Lock()
	targets := make(map[int][]Handle, len(r.users))
	for userID, handles := range r.users {
		for _, h := range handles {
			targets[userID] = append(targets[userID], h)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for userID, handles := range targets {
		delivered += r.deliver(userID, handles, payload)
	}
	return delivered
}

func (r *Registry) deliver(userID int, handles []Handle, payload []byte) int {
	delivered := 0
	for _, h := range handles {
		if err := h.Send(payload); err != nil {
			r.log.Warn("Dropping session %s for user %d after failed send: %v", h.ID(), userID, err)
			r.Disconnect(userID, h)
			continue
		}
		delivered++
	}
	return delivered
}

// Sessions returns the number of live handles for the user.
func (r *Registry) Sessions(userID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID])
}

// Online lists connected users ordered by id.
func (r *Registry) Online() []models.OnlineUser {
	r.mu.Lock()
	online := make([]models.OnlineUser, 0, len(r.users))
	for userID, handles := range r.users {
		online = append(online, models.OnlineUser{UserID: userID, Sessions: len(handles)})
	}
	r.mu.Unlock()

	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })
	return online
}
