// Package websocket carries the duplex audio and control channel between
// devices and their sessions.
package websocket

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/audio"
	"github.com/satriahrh/wicara/server/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB covers the largest audio frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Devices authenticate with a token, not an origin.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients and owns the session registry.
type Hub struct {
	// Registered clients by session id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu sync.RWMutex

	registry *session.Registry
	logger   *zap.Logger
}

// NewHub creates a WebSocket hub over a session registry.
func NewHub(registry *session.Registry, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("deviceID", client.deviceID),
				zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.sessionID]
			if ok {
				delete(h.clients, client.sessionID)
			}
			h.mu.Unlock()
			if !ok {
				continue
			}

			// End the session before closing the send channel so no
			// late chain event writes to a closed channel.
			if err := h.registry.End(client.sessionID); err != nil {
				h.logger.Warn("Session teardown failed",
					zap.String("sessionID", client.sessionID),
					zap.Error(err))
			}
			close(client.send)
			h.logger.Info("Client unregistered",
				zap.String("deviceID", client.deviceID),
				zap.String("sessionID", client.sessionID))
		}
	}
}

// WriteData is one outbound websocket message.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte

	// Audio marks synthesized-audio chunks so an interruption can drop
	// the ones still queued.
	Audio bool

	// gen is the interruption generation the chunk was queued under.
	// writePump skips audio from an older generation.
	gen uint64
}

// Client is a middleman between the websocket connection and its session.
// It implements session.Events; outbound events are marshalled onto the
// buffered send channel so session goroutines never block on the socket.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	deviceID  string
	sessionID string

	// audioGen increments on every interruption; queued audio from an
	// older generation is stale and never written.
	audioGen atomic.Uint64

	session *session.Session
	logger  *zap.Logger
}

// HandleWebSocket upgrades a pre-authenticated request and binds a fresh
// session to the connection.
func HandleWebSocket(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		deviceID:  deviceID,
		sessionID: uuid.NewString(),
		logger:    logger.With(zap.String("deviceID", deviceID)),
	}

	sess, err := hub.registry.Create(client.sessionID, client)
	if err != nil {
		logger.Error("Session creation failed", zap.Error(err))
		conn.Close()
		return err
	}
	client.session = sess

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection into the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processControlMessage(message)
		case websocket.BinaryMessage:
			c.processFrame(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
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
			if c.staleAudio(message) {
				continue
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
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

// processFrame hands one binary audio frame to the session. A malformed
// frame is reported and dropped without tearing down the connection.
func (c *Client) processFrame(data []byte) {
	if err := c.session.HandleFrame(data); err != nil {
		var framing *audio.FramingError
		if errors.As(err, &framing) {
			c.logger.Warn("Dropped malformed frame",
				zap.Int("size", framing.Size),
				zap.String("reason", framing.Reason))
			c.enqueue(NewErrorMessage(err))
			return
		}
		c.logger.Warn("Frame rejected", zap.Error(err))
	}
}

// processControlMessage dispatches an inbound JSON control message.
func (c *Client) processControlMessage(data []byte) {
	msg, err := ParseControlMessage(data)
	if err != nil {
		c.logger.Warn("Invalid control message", zap.Error(err))
		c.enqueue(NewErrorMessage(err))
		return
	}

	switch msg.Type {
	case MessageTypeTTSStart:
		c.session.SetPlaybackActive(true)
	case MessageTypeTTSStop:
		c.session.SetPlaybackActive(false)
	case MessageTypeClearHistory:
		if err := c.session.ClearHistory(); err != nil {
			c.enqueue(NewErrorMessage(err))
		}
	case MessageTypeSetSpeed:
		if err := c.session.SetSpeed(msg.Speed); err != nil {
			c.enqueue(NewErrorMessage(err))
		}
	}
}

// enqueue queues an outbound control message, dropping it if the client's
// buffer is full. A slow client loses events rather than stalling the
// session.
func (c *Client) enqueue(msg *ControlMessage) {
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: msg.Encode()}:
	default:
		c.logger.Warn("Outbound buffer full, dropping message",
			zap.String("type", string(msg.Type)))
	}
}

// session.Events implementation.

func (c *Client) PartialUserRequest(text string) {
	c.enqueue(NewTextMessage(MessageTypePartialUserRequest, text))
}

func (c *Client) FinalUserRequest(text string) {
	c.enqueue(NewTextMessage(MessageTypeFinalUserRequest, text))
}

func (c *Client) FinalAssistantAnswer(text string) {
	c.enqueue(NewTextMessage(MessageTypeFinalAssistantAnswer, text))
}

func (c *Client) TTSChunk(pcm []byte) {
	msg := NewTTSChunkMessage(pcm)
	data := WriteData{
		Type:    websocket.TextMessage,
		Payload: msg.Encode(),
		Audio:   true,
		gen:     c.audioGen.Load(),
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Outbound buffer full, dropping audio chunk")
	}
}

// TTSInterruption advances the audio generation so chunks already queued
// are dropped at write time, then signals the client. Non-audio messages
// keep their order.
func (c *Client) TTSInterruption() {
	c.audioGen.Add(1)
	c.enqueue(NewSignalMessage(MessageTypeTTSInterruption))
}

// staleAudio reports whether a queued audio chunk belongs to a generation
// that has since been interrupted.
func (c *Client) staleAudio(m WriteData) bool {
	return m.Audio && m.gen != c.audioGen.Load()
}

func (c *Client) StopTTS() {
	c.enqueue(NewSignalMessage(MessageTypeStopTTS))
}

func (c *Client) Error(err error) {
	c.enqueue(NewErrorMessage(err))
}
