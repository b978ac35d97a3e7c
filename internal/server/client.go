// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one authenticated WebSocket connection. Its user ID is bound at
// construction and never changes.
type Client struct {
	id     string
	userID string
	addr   string
	conn   *websocket.Conn
	hub    *Hub

	send      chan []byte
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	state     atomic.Int32

	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	log            *zap.Logger
}

// NewClient creates a Client for an authenticated user. conn may be nil in
// tests that only exercise delivery.
func NewClient(conn *websocket.Conn, hub *Hub, userID, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()
	perSecond := float64(cfg.RateLimit.Burst) / cfg.RateLimit.RefillInterval.Seconds()

	c := &Client{
		id:             id,
		userID:         userID,
		addr:           addr,
		conn:           conn,
		hub:            hub,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(rate.Limit(perSecond), cfg.RateLimit.Burst),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.With(zap.String("conn", id), zap.String("user", userID), zap.String("addr", addr)),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID implements Connection.
func (c *Client) ID() string { return c.id }

// UserID implements Connection.
func (c *Client) UserID() string { return c.userID }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// markAuthenticated moves a connecting client to Authenticated. A client
// closed in the meantime stays closed.
func (c *Client) markAuthenticated() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated))
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Deliver implements Connection. It never blocks: a closed connection or a
// full buffer is reported as a delivery error.
func (c *Client) Deliver(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close marks the client dead and stops its write pump, which closes the
// transport. It does not touch the registry.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()
		c.state.Store(int32(StateClosed))
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError logs the reason the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected WebSocket close", zap.Error(err))
	default:
		c.log.Warn("WebSocket read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.lifecycle.Detach(c)
		c.Close()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.log.Info("rate limit exceeded; discarding event",
				zap.Int("burst", c.rateLimit.Burst),
				zap.Duration("interval", c.rateLimit.RefillInterval))
			c.replyError(newError(KindRateLimited, "rate limit exceeded", nil))
			continue
		}

		c.processMessage(rawMessage)
	}
}

// inboundHandlers is the per-connection dispatch table keyed by frame type.
var inboundHandlers = map[string]func(*Client, json.RawMessage) error{
	EventSendMessage:  (*Client).handleSendMessage,
	EventJoin:         (*Client).handleJoin,
	EventJoinPresence: (*Client).handleJoin,
	EventTyping: func(c *Client, data json.RawMessage) error {
		return c.handleTyping(data, SignalStart)
	},
	EventStopTyping: func(c *Client, data json.RawMessage) error {
		return c.handleTyping(data, SignalStop)
	},
}

// processMessage decodes one frame and dispatches it. Failures are reported
// to this connection only.
func (c *Client) processMessage(rawMessage []byte) {
	var frame Frame
	if err := json.Unmarshal(rawMessage, &frame); err != nil {
		c.replyError(newError(KindBadRequest, "malformed frame", err))
		return
	}
	handler, ok := inboundHandlers[frame.Type]
	if !ok {
		c.replyError(newError(KindBadRequest, "unknown event type "+frame.Type, nil))
		return
	}
	if err := handler(c, frame.Data); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleSendMessage(data json.RawMessage) error {
	var req SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return newError(KindBadRequest, "malformed sendMessage payload", err)
	}
	_, err := c.hub.messages.Send(c.hub.ctx, c.userID, req.Receiver, req.Content)
	return err
}

// handleJoin accepts joinPresence and the legacy join event. Identity is fixed at
// authentication, so a join naming someone else is refused.
func (c *Client) handleJoin(data json.RawMessage) error {
	var req JoinRequest
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
	case data[0] == '"':
		if err := json.Unmarshal(data, &req.UserID); err != nil {
			return newError(KindBadRequest, "malformed join payload", err)
		}
	default:
		if err := json.Unmarshal(data, &req); err != nil {
			return newError(KindBadRequest, "malformed join payload", err)
		}
	}
	if req.UserID != "" && req.UserID != c.userID {
		c.log.Warn("refused join for a different identity", zap.String("requested", req.UserID))
		return newError(KindIdentityMismatch, "cannot join as another user", nil)
	}
	return nil
}

func (c *Client) handleTyping(data json.RawMessage, kind SignalKind) error {
	var req TypingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return newError(KindBadRequest, "malformed typing payload", err)
	}
	if req.SenderID != "" && req.SenderID != c.userID {
		return newError(KindIdentityMismatch, "cannot signal as another user", nil)
	}
	c.hub.signals.Signal(c.userID, req.ReceiverID, kind)
	return nil
}

func (c *Client) replyError(err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindBadRequest
	}
	c.log.Debug("event rejected", zap.String("kind", string(kind)), zap.Error(err))
	if dErr := c.Deliver(encodeFrame(EventMessageError, MessageError{Code: kind, Reason: reasonOf(err)})); dErr != nil {
		c.log.Debug("could not report error to client", zap.Error(dErr))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.writeCloseMessage()
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", zap.Error(err))
		}
	}
}

// writeTextMessage writes one event per frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping message", zap.Error(err))
		return false
	}
	return true
}
