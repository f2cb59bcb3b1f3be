package web

import (
	"sync"
	"time"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Client is one WebSocket connection. Frames are queued and written by
// the client's own goroutine.
type Client struct {
	conn *websocket.Conn
	send chan string
	once sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan string, 64)}
}

// Send queues a frame. A slow client drops frames.
func (c *Client) Send(frame string) {
	select {
	case c.send <- frame:
	default:
		debug.Verbose("[Websocket] client %v too slow, frame dropped", c.conn.RemoteAddr())
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			debug.Verbose("[Websocket] write to %v: %v", c.conn.RemoteAddr(), err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Hub tracks the connected WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	debug.Info("[Websocket] Client %v connected (%d total)", c.conn.RemoteAddr(), n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	debug.Info("[Websocket] Client %v disconnected (%d left)", c.conn.RemoteAddr(), n)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues frame on every client.
func (h *Hub) Broadcast(frame string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.Send(frame)
	}
}
