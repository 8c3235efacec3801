package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// Message is the envelope pushed to presentation screens.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Room    string      `json:"room,omitempty"`
}

// Client is one websocket connection subscribed to a raffle session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	room string
	once sync.Once
}

// Hub fans out raffle events to every screen watching the same session.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		rooms:      make(map[string]map[*Client]bool),
	}
}

// Run processes registrations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.room] == nil {
				h.rooms[c.room] = make(map[*Client]bool)
			}
			h.rooms[c.room][c] = true
			logger.Infof("Screen joined session %s (%d watching)", c.room, len(h.rooms[c.room]))
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[c.room]; ok && clients[c] {
				delete(clients, c)
				c.closeSend()
				if len(clients) == 0 {
					delete(h.rooms, c.room)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends an event to every client in room. Slow clients miss the event
// rather than block the raffle.
func (h *Hub) Publish(room, eventType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload, Room: room})
	if err != nil {
		logger.Errorf("Error marshalling %s event for session %s: %v", eventType, room, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- data:
		default:
			logger.Warningf("Dropping %s event for a slow screen in session %s", eventType, room)
		}
	}
}

// Watchers returns how many clients are subscribed to room.
func (h *Hub) Watchers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Attach registers conn under room and starts its pumps. initial, if non-nil,
// is sent first so a new screen renders the current state immediately.
func (h *Hub) Attach(conn *websocket.Conn, room string, initial []byte) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), room: room}
	if initial != nil {
		c.send <- initial
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

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, clients := range h.rooms {
		for c := range clients {
			c.closeSend()
		}
		delete(h.rooms, room)
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// readPump only drains control frames; screens never send commands.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warningf("Screen in session %s disconnected: %v", c.room, err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warningf("Error writing to screen in session %s: %v", c.room, err)
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
