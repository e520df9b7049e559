package websocket

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"chat-notify/internal/models"
	"chat-notify/pkg/logger"

	"github.com/stretchr/testify/assert"
)

type fakeHandle struct {
	id string

	mu       sync.Mutex
	received [][]byte
	fail     error
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.received = append(h.received, payload)
	return nil
}

func (h *fakeHandle) Received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.received))
	for _, p := range h.received {
		out = append(out, string(p))
	}
	return out
}

func newTestRegistry() *Registry {
	return NewRegistry(logger.Discard())
}

func TestRegistry_ConnectDisconnect(t *testing.T) {
	t.Run("disconnect for an unknown user is a no-op", func(t *testing.T) {
		r := newTestRegistry()

		assert.NotPanics(t, func() {
			r.Disconnect(99, newFakeHandle("a"))
		})
		assert.Empty(t, r.Online())
	})

	t.Run("connect is idempotent", func(t *testing.T) {
		r := newTestRegistry()
		h := newFakeHandle("a")

		r.Connect(1, h)
		r.Connect(1, h)

		assert.Equal(t, 1, r.Sessions(1))
	})

	t.Run("double disconnect is safe and removes the user entry", func(t *testing.T) {
		r := newTestRegistry()
		h := newFakeHandle("a")
		r.Connect(1, h)

		r.Disconnect(1, h)
		r.Disconnect(1, h)

		assert.Equal(t, 0, r.Sessions(1))
		assert.Empty(t, r.Online())
	})

	t.Run("final membership follows the last operation", func(t *testing.T) {
		r := newTestRegistry()
		h := newFakeHandle("a")

		r.Connect(1, h)
		r.Disconnect(1, h)
		r.Connect(1, h)
		assert.Equal(t, 1, r.Sessions(1))

		r.Disconnect(1, h)
		r.Disconnect(1, h)
		r.Connect(1, h)
		r.Connect(1, h)
		assert.Equal(t, 1, r.Sessions(1))
	})

	t.Run("a user keeps other sessions when one leaves", func(t *testing.T) {
		r := newTestRegistry()
		phone, laptop := newFakeHandle("phone"), newFakeHandle("laptop")
		r.Connect(1, phone)
		r.Connect(1, laptop)

		r.Disconnect(1, phone)

		assert.Equal(t, 1, r.Sessions(1))
		assert.Equal(t, []models.OnlineUser{{UserID: 1, Sessions: 1}}, r.Online())
	})

	t.Run("disconnect under the wrong user leaves the handle", func(t *testing.T) {
		r := newTestRegistry()
		h := newFakeHandle("a")
		r.Connect(1, h)

		r.Disconnect(2, h)

		assert.Equal(t, 1, r.Sessions(1))
	})
}

func TestRegistry_SendToUser(t *testing.T) {
	t.Run("delivers to every session of the user only", func(t *testing.T) {
		// given
		r := newTestRegistry()
		phone, laptop, other := newFakeHandle("phone"), newFakeHandle("laptop"), newFakeHandle("other")
		r.Connect(1, phone)
		r.Connect(1, laptop)
		r.Connect(2, other)

		// when
		delivered := r.SendToUser(1, []byte(`{"ping":true}`))

		// then
		assert.Equal(t, 2, delivered)
		assert.Equal(t, []string{`{"ping":true}`}, phone.Received())
		assert.Equal(t, []string{`{"ping":true}`}, laptop.Received())
		assert.Empty(t, other.Received())
	})

	t.Run("sending to an absent user delivers nothing", func(t *testing.T) {
		r := newTestRegistry()
		assert.Equal(t, 0, r.SendToUser(5, []byte("x")))
	})

	t.Run("a broken handle is dropped and not reported", func(t *testing.T) {
		// given
		r := newTestRegistry()
		broken, healthy := newFakeHandle("broken"), newFakeHandle("healthy")
		broken.fail = errors.New("broken pipe")
		r.Connect(1, broken)
		r.Connect(1, healthy)

		// when
		delivered := r.SendToUser(1, []byte("x"))

		// then
		assert.Equal(t, 1, delivered)
		assert.Equal(t, 1, r.Sessions(1))
		assert.Equal(t, []string{"x"}, healthy.Received())
	})
}

func TestRegistry_Broadcast(t *testing.T) {
	r := newTestRegistry()
	a, b, c := newFakeHandle("a"), newFakeHandle("b"), newFakeHandle("c")
	c.fail = errors.New("gone")
	r.Connect(1, a)
	r.Connect(2, b)
	r.Connect(3, c)

	delivered := r.Broadcast([]byte("hello"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"hello"}, a.Received())
	assert.Equal(t, []string{"hello"}, b.Received())
	assert.Equal(t, []models.OnlineUser{{UserID: 1, Sessions: 1}, {UserID: 2, Sessions: 1}}, r.Online())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for user := 0; user < 50; user++ {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(user, i int) {
				defer wg.Done()
				h := newFakeHandle(fmt.Sprintf("%d-%d", user, i))
				r.Connect(user, h)
				r.SendToUser(user, []byte("x"))
				r.Broadcast([]byte("y"))
				if i%2 == 0 {
					r.Disconnect(user, h)
				}
			}(user, i)
		}
	}
	wg.Wait()

	online := r.Online()
	assert.Len(t, online, 50)
	for _, u := range online {
		assert.Equal(t, 2, u.Sessions)
	}
}
