package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"chat-notify/internal/models"
	ws "chat-notify/internal/websocket"
	"chat-notify/pkg/logger"
)

const maxPushBody = 64 << 10

// AdminHandlers exposes addressed push, broadcast and the online list.
// They are disabled when no admin token is configured.
type AdminHandlers struct {
	registry *ws.Registry
	token    string
	log      *logger.Logger
}

func NewAdminHandlers(registry *ws.Registry, token string, log *logger.Logger) *AdminHandlers {
	return &AdminHandlers{
		registry: registry,
		token:    token,
		log:      log.With("component", "admin_handler"),
	}
}

func (h *AdminHandlers) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	given := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) == 1
}

// PushToUser handles POST /notifications/users/{id}
func (h *AdminHandlers) PushToUser(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.getUserIDFromPath(r)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	payload, err := readJSONBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	delivered := h.registry.SendToUser(userID, payload)
	h.log.Info("Pushed admin payload to user %d (%d sessions)", userID, delivered)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
}

// Broadcast handles POST /notifications/broadcast
func (h *AdminHandlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	payload, err := readJSONBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	delivered := h.registry.Broadcast(payload)
	h.log.Info("Broadcast admin payload to %d sessions", delivered)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
}

// Online handles GET /notifications/online
func (h *AdminHandlers) Online(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	users := h.registry.Online()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.OnlineUsersResponse{Users: users, Count: len(users)})
}

func (h *AdminHandlers) getUserIDFromPath(r *http.Request) (int, error) {
	// /notifications/users/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid path")
	}

	return strconv.Atoi(parts[2])
}

func readJSONBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody+1))
	if err != nil {
		return nil, fmt.Errorf("invalid request")
	}
	if len(body) > maxPushBody {
		return nil, fmt.Errorf("payload too large")
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("payload must be JSON")
	}
	return body, nil
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /healthz
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			logger.Error("Health check failed: %v", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
