package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrSessionClosed is returned by Send once the connection is closed or broken.
var ErrSessionClosed = errors.New("session closed")

// Client wraps one gorilla connection. Writes are serialized because the
// session loop and registry pushes may write concurrently.
type Client struct {
	id        string
	conn      *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, writeWait time.Duration) *Client {
	return &Client{
		id:        uuid.NewString(),
		conn:      conn,
		writeWait: writeWait,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.closed = true
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return nil
}

func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.Send(data)
}

func (c *Client) Ping() error {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return nil
}

// Close sends a close frame with code and reason, then closes the socket.
// Only the first call has any effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		_ = c.conn.Close()
	})
}
