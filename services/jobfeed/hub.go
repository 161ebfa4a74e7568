package jobfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"twmarket_backend/models"

	"github.com/gorilla/websocket"
)

// Hub limits and timeouts
const (
	MaxClients    = 100
	WriteTimeout  = 10 * time.Second
	PongTimeout   = 60 * time.Second
	PingInterval  = 30 * time.Second
	sendQueueSize = 32
)

// JobEvent is what operators see on the live feed.
type JobEvent struct {
	Type         string `json:"type"`
	JobSignature string `json:"job_signature"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	Time         string `json:"time"`
}

// client is one websocket subscriber
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts job history events to connected websocket clients. Slow
// clients are dropped rather than blocking the broadcast path.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// NewHub creates and starts the broadcast hub
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxClients {
				h.mu.Unlock()
				c.conn.Close()
				continue
			}
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// send queue full, drop the client
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishJobEntry implements jobguard.Publisher.
func (h *Hub) PublishJobEntry(entry models.JobHistoryEntry) {
	event := JobEvent{
		Type:         "job_run",
		JobSignature: entry.JobSignature,
		Status:       entry.Status,
		Summary:      entry.Summary,
		ErrorDetail:  entry.ErrorDetail,
		Time:         entry.FinishedAt.Format(time.RFC3339),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Warning: could not encode job event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Println("Warning: job feed broadcast queue full, dropping event")
	}
}

// ServeWS upgrades an HTTP request into a feed subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueueSize)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
