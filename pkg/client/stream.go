package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// MessageHandler receives the raw payload of one stream envelope.
type MessageHandler func(payload json.RawMessage) error

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StreamClient consumes the /ws event stream.
type StreamClient struct {
	url       string
	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	handlers  map[string]MessageHandler
	done      chan struct{}
	closeOnce sync.Once
	logger    *logrus.Logger
}

// NewStreamClient accepts either a ws(s):// URL or the server's http(s)://
// base URL, in which case /ws is appended.
func NewStreamClient(serverURL string, logger *logrus.Logger) *StreamClient {
	url := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://") + "/ws"
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://") + "/ws"
	}

	return &StreamClient{
		url:      url,
		handlers: make(map[string]MessageHandler),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (sc *StreamClient) Connect(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, sc.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return fmt.Errorf("failed to connect to stream (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	sc.conn = conn
	sc.connected = true

	go sc.readLoop(ctx)
	go sc.keepAlive(ctx)

	return nil
}

// RegisterHandler sets the handler for one envelope type, replacing any
// previous one. A handler for "*" receives every type without its own.
func (sc *StreamClient) RegisterHandler(messageType string, handler MessageHandler) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handlers[messageType] = handler
}

// Done is closed once the connection is gone.
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

func (sc *StreamClient) Close() error {
	sc.mu.Lock()
	conn := sc.conn
	wasConnected := sc.connected
	sc.connected = false
	sc.mu.Unlock()

	if conn == nil || !wasConnected {
		return nil
	}

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		sc.logger.WithError(err).Debug("Failed to send close frame")
	}
	return conn.Close()
}

func (sc *StreamClient) handler(messageType string) (MessageHandler, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if h, ok := sc.handlers[messageType]; ok {
		return h, true
	}
	h, ok := sc.handlers["*"]
	return h, ok
}

func (sc *StreamClient) readLoop(ctx context.Context) {
	defer sc.closeOnce.Do(func() { close(sc.done) })

	for {
		var msg envelope
		if err := sc.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.logger.WithError(err).Error("Failed to read stream message")
			}
			sc.handleDisconnect()
			return
		}

		handler, ok := sc.handler(msg.Type)
		if !ok {
			continue
		}
		if err := handler(msg.Payload); err != nil {
			sc.logger.WithError(err).WithField("type", msg.Type).Error("Handler error")
		}
	}
}

func (sc *StreamClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sc.Close()
			return
		case <-sc.done:
			return
		case <-ticker.C:
			if err := sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sc.logger.WithError(err).Error("Failed to send ping")
				sc.handleDisconnect()
				return
			}
		}
	}
}

func (sc *StreamClient) handleDisconnect() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.connected = false
	if sc.conn != nil {
		sc.conn.Close()
	}
}
