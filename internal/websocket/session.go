package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chat-notify/internal/models"
	"chat-notify/internal/services"
	"chat-notify/internal/telemetry"
	"chat-notify/pkg/logger"

	"github.com/gorilla/websocket"
)

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// cleanupTimeout bounds the presence writes made while closing, which run
// even after the session context is cancelled.
const cleanupTimeout = 5 * time.Second

type Presence interface {
	Start(ctx context.Context, userID int) error
	End(ctx context.Context, userID int) error
}

type SessionConfig struct {
	PollInterval time.Duration
	PongWait     time.Duration
	ReadLimit    int64
}

func (c SessionConfig) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Session binds one authenticated connection to its user for the lifetime of
// the connection. Run owns the poll loop; cleanup happens exactly once on every
// exit path.
type Session struct {
	client   *Client
	conn     *websocket.Conn
	user     *models.User
	registry *Registry
	presence Presence
	engine   *services.DeltaEngine
	cfg      SessionConfig
	log      *logger.Logger

	state           atomic.Int32
	presenceStarted bool
	closeOnce       sync.Once
}

func NewSession(conn *websocket.Conn, client *Client, user *models.User, registry *Registry, presence Presence, engine *services.DeltaEngine, cfg SessionConfig, log *logger.Logger) *Session {
	return &Session{
		client:   client,
		conn:     conn,
		user:     user,
		registry: registry,
		presence: presence,
		engine:   engine,
		cfg:      cfg,
		log:      log.With("component", "session", "user_id", user.ID, "session_id", client.ID()),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Run blocks until the connection ends or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	closeCode := websocket.CloseNormalClosure
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Unexpected fault in notification session: %v", r)
			closeCode = websocket.CloseInternalServerErr
		}
		s.close(ctx, closeCode)
	}()

	s.registry.Connect(s.user.ID, s.client)
	s.state.Store(int32(StateActive))
	telemetry.SessionsActive.Add(ctx, 1)
	s.log.Info("WebSocket connected for user %d", s.user.ID)

	s.presenceStarted = true
	if err := s.presence.Start(ctx, s.user.ID); err != nil {
		s.log.Error("Presence start failed for user %d: %v", s.user.ID, err)
	}

	heartbeats := make(chan struct{}, 1)
	readDone := make(chan error, 1)
	go s.readPump(heartbeats, readDone)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	pinger := time.NewTicker(s.cfg.pingPeriod())
	defer pinger.Stop()

	if !s.tick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			closeCode = websocket.CloseGoingAway
			return

		case err := <-readDone:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("WebSocket read error for user %d: %v", s.user.ID, err)
			} else {
				s.log.Info("WebSocket disconnected for user %d", s.user.ID)
			}
			return

		case <-heartbeats:
			if !s.tick(ctx) {
				return
			}

		case <-ticker.C:
			if !s.tick(ctx) {
				return
			}

		case <-pinger.C:
			if err := s.client.Ping(); err != nil {
				s.log.Info("Ping failed for user %d: %v", s.user.ID, err)
				return
			}
		}
	}
}

// readPump treats every inbound frame as a liveness tick. It exits when the
// connection errors, which includes the socket being closed by cleanup.
func (s *Session) readPump(heartbeats chan<- struct{}, done chan<- error) {
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			done <- err
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		select {
		case heartbeats <- struct{}{}:
		default:
		}
	}
}

// tick polls once and pushes whatever changed. It returns false when the
// connection can no longer be written to.
func (s *Session) tick(ctx context.Context) bool {
	delta := s.engine.Poll(ctx)

	if delta.MessagesChanged {
		if !s.push(ctx, "messages", models.NewMessagesPayload{Messages: delta.Messages}) {
			return false
		}
	}
	if delta.InvitationsChanged {
		if !s.push(ctx, "invitations", models.NewInvitationsPayload{Invitations: delta.Invitations}) {
			return false
		}
	}
	return true
}

func (s *Session) push(ctx context.Context, kind string, payload any) bool {
	if err := s.client.SendJSON(payload); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			s.log.Info("Connection closed while pushing %s: %v", kind, err)
		} else {
			s.log.Error("Error pushing %s: %v", kind, err)
		}
		return false
	}
	telemetry.Pushes.Add(ctx, 1, telemetry.Kind(kind))
	return true
}

// close ends presence, leaves the registry and releases the socket, in that
// order. Presence writes get their own deadline so cancellation of ctx does
// not skip them.
func (s *Session) close(ctx context.Context, code int) {
	s.closeOnce.Do(func() {
		wasActive := s.State() == StateActive
		s.state.Store(int32(StateClosing))

		if s.presenceStarted {
			endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			if err := s.presence.End(endCtx, s.user.ID); err != nil {
				s.log.Error("Presence end failed for user %d: %v", s.user.ID, err)
			}
			cancel()
		}

		s.registry.Disconnect(s.user.ID, s.client)
		s.client.Close(code, "")

		if wasActive {
			telemetry.SessionsActive.Add(context.WithoutCancel(ctx), -1)
		}
		s.state.Store(int32(StateClosed))
		s.log.Info("WebSocket session closed for user %d", s.user.ID)
	})
}
