package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *LogBroadcaster
	Hub         *Hub
	Service     *Service
	Rotor       Rotor
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *LogBroadcaster, hub *Hub, service *Service, rotor Rotor, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Hub:         hub,
		Service:     service,
		Rotor:       rotor,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns the rotor state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Rotor.Status())
}

// HandleWS upgrades to a WebSocket speaking the IDENT|json protocol.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("[Websocket] upgrade: %v", err)
		return
	}
	c := newClient(conn)
	go c.writePump()

	h.Hub.add(c)
	defer h.Hub.remove(c)

	ctx := r.Context()
	frames, err := h.Service.Welcome(ctx)
	if err != nil {
		debug.Warn("[Websocket] welcome: %v", err)
		return
	}
	for _, f := range frames {
		c.Send(f)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Verbose("[Websocket] read: %v", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		debug.Verbose("[Websocket] received %s", data)
		if err := h.Service.Handle(ctx, string(data)); err != nil {
			debug.Warn("[Websocket] Error: %v", err)
		}
	}
}

// HandleLogStream handles GET /log/stream for SSE.
func (h *Handlers) HandleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
