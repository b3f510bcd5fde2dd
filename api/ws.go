package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/tradesim/pkg/events"
	"github.com/gregtusar/tradesim/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// MessageTypeSnapshot is sent once to every client right after it connects.
const MessageTypeSnapshot = "snapshot"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the frame format on /ws.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to every connected WebSocket client.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        *events.Bus
	snapshot   func() models.Snapshot
	logger     *logrus.Logger
	mu         sync.RWMutex

	onPriceTick func(models.PricePoint)
	onPlaced    func(models.Position)
	onResolved  func(models.Position)
}

func NewHub(bus *events.Bus, snapshot func() models.Snapshot, logger *logrus.Logger) (*Hub, error) {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		snapshot:   snapshot,
		logger:     logger,
	}

	h.onPriceTick = func(pt models.PricePoint) { h.publish(events.PriceTick, pt) }
	h.onPlaced = func(p models.Position) { h.publish(events.PositionPlaced, p) }
	h.onResolved = func(p models.Position) { h.publish(events.PositionResolved, p) }

	if err := bus.SubscribeAsync(events.PriceTick, h.onPriceTick); err != nil {
		return nil, err
	}
	if err := bus.SubscribeAsync(events.PositionPlaced, h.onPlaced); err != nil {
		return nil, err
	}
	if err := bus.SubscribeAsync(events.PositionResolved, h.onResolved); err != nil {
		return nil, err
	}

	return h, nil
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.WithField("total_clients", h.ClientCount()).Info("WebSocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.WithField("total_clients", h.ClientCount()).Info("WebSocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("Dropping message for slow WebSocket client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Close detaches the hub from the event bus.
func (h *Hub) Close() error {
	if err := h.bus.Unsubscribe(events.PriceTick, h.onPriceTick); err != nil {
		return err
	}
	if err := h.bus.Unsubscribe(events.PositionPlaced, h.onPlaced); err != nil {
		return err
	}
	return h.bus.Unsubscribe(events.PositionResolved, h.onResolved)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(topic events.Topic, payload interface{}) {
	msg, err := encodeEnvelope(string(topic), payload)
	if err != nil {
		h.logger.WithError(err).WithField("topic", topic).Error("Failed to encode event")
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.WithField("topic", topic).Warn("Broadcast buffer full, dropping event")
	}
}

func encodeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// HandleWS upgrades the request and registers the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	if msg, err := encodeEnvelope(MessageTypeSnapshot, h.snapshot()); err == nil {
		c.send <- msg
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

// readPump only exists to process control frames and notice disconnects.
func (c *client) readPump() {
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
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).Warn("Unexpected WebSocket close")
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
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
