package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// auditHub pushes committed audit entries to websocket subscribers.
// Broadcast never blocks: a subscriber whose buffer is full is dropped.
type auditHub struct {
	mu       sync.Mutex
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

func newAuditHub(logger zerolog.Logger) *auditHub {
	return &auditHub{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Broadcast sends every entry as one text frame.
func (h *auditHub) Broadcast(entries []core.AuditEntry) {
	if len(entries) == 0 {
		return
	}
	frames := make([][]byte, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			h.logger.Error().Err(err).Str("entry_id", e.ID).Msg("encoding audit entry for stream")
			continue
		}
		frames = append(frames, data)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		for _, f := range frames {
			select {
			case c.send <- f:
			default:
				h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("audit stream subscriber too slow, dropping")
				delete(h.clients, c)
				c.close()
			}
			if _, ok := h.clients[c]; !ok {
				break
			}
		}
	}
}

// Len returns the number of connected subscribers.
func (h *auditHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *auditHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("audit stream upgrade failed")
		return
	}
	c := &streamClient{conn: conn, send: make(chan []byte, streamBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("audit stream subscriber connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client frames and unregisters the client on close.
func (h *auditHub) readLoop(c *streamClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			c.close()
		}
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("audit stream read error")
			}
			return
		}
	}
}

func (h *auditHub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *auditHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
