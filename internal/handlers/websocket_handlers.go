package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"chat-notify/internal/auth"
	"chat-notify/internal/cipher"
	"chat-notify/internal/database"
	"chat-notify/internal/models"
	"chat-notify/internal/services"
	ws "chat-notify/internal/websocket"
	"chat-notify/pkg/logger"

	"github.com/gorilla/websocket"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type WebSocketHandlers struct {
	auth     Authenticator
	store    database.NotificationRepository
	cipher   *cipher.Cipher
	registry *ws.Registry
	presence ws.Presence
	cfg      ws.SessionConfig
	log      *logger.Logger
	upgrader websocket.Upgrader

	writeWait time.Duration
	baseCtx   context.Context
	sessions  sync.WaitGroup
}

// NewWebSocketHandlers serves notification sessions. Every session derives its
// context from baseCtx, so cancelling baseCtx closes them all.
func NewWebSocketHandlers(baseCtx context.Context, authenticator Authenticator, store database.NotificationRepository, c *cipher.Cipher, registry *ws.Registry, presence ws.Presence, cfg ws.SessionConfig, writeWait time.Duration, log *logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		auth:      authenticator,
		store:     store,
		cipher:    c,
		registry:  registry,
		presence:  presence,
		cfg:       cfg,
		log:       log.With("component", "notification_handler"),
		writeWait: writeWait,
		baseCtx:   baseCtx,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	h.sessions.Add(1)
	defer h.sessions.Done()

	// Upgrade first so that auth failures reach the client as a close code
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Upgrade error: %v", err)
		return
	}
	client := ws.NewClient(conn, h.writeWait)

	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()

	user, err := h.auth.Authenticate(ctx, r.URL.Query().Get("token"))
	if err != nil {
		h.log.Warn("Error in WebSocket setup: %v", err)
		if errors.Is(err, auth.ErrAuth) {
			client.Close(websocket.ClosePolicyViolation, "authentication failed")
		} else {
			client.Close(websocket.CloseInternalServerErr, "try again later")
		}
		return
	}

	engine := services.NewDeltaEngine(h.store, h.cipher, user.ID, h.log)
	session := ws.NewSession(conn, client, user, h.registry, h.presence, engine, h.cfg, h.log)
	session.Run(ctx)
}

// Wait blocks until every session has finished its cleanup or ctx expires.
func (h *WebSocketHandlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
