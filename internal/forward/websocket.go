package forward

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 2 * time.Second
	wsPongWait     = 60 * time.Second
)

// WebSocketClient streams JSON records to one browser connection. Clients
// are not redialed; a failed client is dropped and must reconnect itself.
type WebSocketClient struct {
	name  string
	alive atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketClient takes ownership of conn and starts its read pump,
// which only exists to observe close frames and pongs.
func NewWebSocketClient(name string, conn *websocket.Conn) *WebSocketClient {
	c := &WebSocketClient{name: name, conn: conn}
	c.alive.Store(true)
	go c.readPump()
	return c
}

func (c *WebSocketClient) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.alive.Store(false)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

func (c *WebSocketClient) Name() string { return c.name }
func (c *WebSocketClient) Alive() bool  { return c.alive.Load() }

func (c *WebSocketClient) Reconnect(context.Context) error {
	return ErrNotReconnectable
}

func (c *WebSocketClient) Render(_ context.Context, f *validator.ValidatedFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(f.Record()); err != nil {
		c.alive.Store(false)
		return err
	}
	return nil
}

// Ping keeps idle connections open through proxies.
func (c *WebSocketClient) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (c *WebSocketClient) Close() error {
	c.alive.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
