// Package stream pushes book depth updates to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by the router.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans broadcast messages out to every connected client. New clients
// first receive the most recent message. Only Run touches the client set.
type Hub struct {
	logger     *zap.Logger
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	clients    atomic.Int64
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	clients := make(map[*client]struct{})
	var last []byte

	defer func() {
		close(h.done)
		for c := range clients {
			close(c.send)
		}
		h.clients.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			clients[c] = struct{}{}
			h.clients.Store(int64(len(clients)))
			if last != nil {
				c.send <- last
			}
			h.logger.Debug("ws client connected", zap.String("remote", c.id), zap.Int("clients", len(clients)))

		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.clients.Store(int64(len(clients)))
				h.logger.Debug("ws client disconnected", zap.String("remote", c.id), zap.Int("clients", len(clients)))
			}

		case msg := <-h.broadcast:
			last = msg
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer
					delete(clients, c)
					close(c.send)
					h.logger.Warn("ws client dropped, send buffer full", zap.String("remote", c.id))
				}
			}
			h.clients.Store(int64(len(clients)))
		}
	}
}

// Broadcast marshals v and queues it for every client. It never blocks:
// if the queue is full the message is dropped, since a newer depth
// snapshot will follow.
func (h *Hub) Broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("ws marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast queue full, dropping message")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   conn.RemoteAddr().String(),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// readPump drains the connection so pongs and close frames are handled.
// Clients have nothing to say to the hub.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws read error", zap.String("remote", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
