package homeassistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketClient streams state_changed events from the Home Assistant
// event bus. It serves the state_trigger update mode.
type WebSocketClient interface {
	Start(ctx context.Context) error
	Stop()
	IsConnected() bool
	Events() <-chan StateChangeEvent
}

// wsMessage covers the subset of the websocket protocol this client uses
type wsMessage struct {
	ID      int       `json:"id,omitempty"`
	Type    string    `json:"type"`
	Success *bool     `json:"success,omitempty"`
	Event   *wsEvent  `json:"event,omitempty"`
	Error   *wsError  `json:"error,omitempty"`
}

type wsEvent struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsClient struct {
	baseURL   string
	token     string
	logger    *logrus.Logger
	messageID int

	mutex     sync.RWMutex
	conn      *websocket.Conn
	connected bool

	eventChan chan StateChangeEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewWebSocketClient creates a new websocket client
func NewWebSocketClient(baseURL, token string, logger *logrus.Logger) WebSocketClient {
	return &wsClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		token:     token,
		logger:    logger,
		messageID: 1,
		eventChan: make(chan StateChangeEvent, 64),
		stopChan:  make(chan struct{}),
	}
}

// Start connects, authenticates, subscribes to state_changed events, and
// spawns the read loop. The read loop reconnects on failure until Stop.
func (c *wsClient) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	go c.run()
	return nil
}

// Stop shuts the connection down and ends the read loop.
func (c *wsClient) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.mutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mutex.Unlock()
}

func (c *wsClient) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}

// Events returns the state change event channel. Events are dropped, not
// blocked on, when the consumer falls behind.
func (c *wsClient) Events() <-chan StateChangeEvent {
	return c.eventChan
}

func (c *wsClient) connect(ctx context.Context) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/websocket"
	c.logger.WithField("url", wsURL).Debug("Connecting to Home Assistant WebSocket")

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return NewHAError(0, "WebSocket connection failed", map[string]interface{}{
			"error": err.Error(),
			"url":   wsURL,
		})
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	if err := c.subscribeStateChanges(conn); err != nil {
		conn.Close()
		return err
	}

	c.mutex.Lock()
	c.conn = conn
	c.connected = true
	c.mutex.Unlock()

	c.logger.Info("Connected to Home Assistant WebSocket")
	return nil
}

func (c *wsClient) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var authRequired wsMessage
	if err := conn.ReadJSON(&authRequired); err != nil {
		return NewHAError(0, "WebSocket auth handshake failed", map[string]interface{}{"error": err.Error()})
	}
	if authRequired.Type != "auth_required" {
		return NewHAError(0, "Unexpected WebSocket handshake message", map[string]interface{}{"type": authRequired.Type})
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"type":         "auth",
		"access_token": c.token,
	}); err != nil {
		return NewHAError(0, "WebSocket auth send failed", map[string]interface{}{"error": err.Error()})
	}

	var authResult wsMessage
	if err := conn.ReadJSON(&authResult); err != nil {
		return NewHAError(0, "WebSocket auth handshake failed", map[string]interface{}{"error": err.Error()})
	}
	if authResult.Type != "auth_ok" {
		return NewHAError(0, "WebSocket authentication failed", map[string]interface{}{"type": authResult.Type})
	}

	return nil
}

func (c *wsClient) subscribeStateChanges(conn *websocket.Conn) error {
	msg := map[string]interface{}{
		"id":         c.messageID,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	c.messageID++

	if err := conn.WriteJSON(msg); err != nil {
		return NewHAError(0, "Failed to subscribe to state changes", map[string]interface{}{"error": err.Error()})
	}

	c.logger.Info("Subscribed to Home Assistant state change events")
	return nil
}

// run reads messages until Stop, reconnecting with a doubling backoff when
// the connection drops.
func (c *wsClient) run() {
	backoff := time.Second

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mutex.RLock()
		conn := c.conn
		c.mutex.RUnlock()

		if conn == nil {
			c.logger.WithField("backoff", backoff.String()).Warn("WebSocket disconnected, reconnecting")
			select {
			case <-c.stopChan:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			err := c.connect(ctx)
			cancel()
			if err != nil {
				c.logger.WithError(err).Warn("WebSocket reconnect failed")
			}
			continue
		}

		var message wsMessage
		if err := conn.ReadJSON(&message); err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}

			c.logger.WithError(err).Warn("WebSocket read failed")
			c.mutex.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mutex.Unlock()
			continue
		}

		backoff = time.Second
		c.handleMessage(&message)
	}
}

func (c *wsClient) handleMessage(message *wsMessage) {
	switch message.Type {
	case "event":
		c.handleEvent(message.Event)
	case "result":
		if message.Success != nil && !*message.Success {
			entry := c.logger.WithField("message_id", message.ID)
			if message.Error != nil {
				entry = entry.WithField("error", message.Error.Message)
			}
			entry.Warn("WebSocket command failed")
		}
	default:
		c.logger.WithField("message_type", message.Type).Debug("Ignoring WebSocket message")
	}
}

func (c *wsClient) handleEvent(event *wsEvent) {
	if event == nil || event.EventType != "state_changed" {
		return
	}

	entityID, ok := event.Data["entity_id"].(string)
	if !ok {
		return
	}

	newState, ok := event.Data["new_state"].(map[string]interface{})
	if !ok {
		return // entity removed
	}

	stateChange := StateChangeEvent{EntityID: entityID}
	if s, ok := newState["state"].(string); ok {
		stateChange.NewState = s
	}
	if oldState, ok := event.Data["old_state"].(map[string]interface{}); ok {
		if s, ok := oldState["state"].(string); ok {
			stateChange.OldState = s
		}
	}

	select {
	case c.eventChan <- stateChange:
	default:
		c.logger.WithField("entity_id", entityID).Warn("State change event channel full, dropping event")
	}
}
