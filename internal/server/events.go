package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/campuschat/internal/identity"
)

// Inbound event types.
const (
	EventSendMessage  = "sendMessage"
	EventJoin         = "join"
	EventJoinPresence = "joinPresence"
	EventTyping       = "typing"
	EventStopTyping   = "stopTyping"
)

// Outbound event types.
const (
	EventNewMessage        = "newMessage"
	EventUserStatus        = "userStatus"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventMessageError      = "messageError"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Frame is the JSON envelope of every WebSocket text frame.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendMessageRequest is the payload of sendMessage.
type SendMessageRequest struct {
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// JoinRequest is the payload of join and joinPresence. The user ID is optional; when present
// it must match the authenticated identity.
type JoinRequest struct {
	UserID string `json:"userId,omitempty"`
}

// TypingRequest is the payload of typing and stopTyping.
type TypingRequest struct {
	ReceiverID string `json:"receiverId"`
	SenderID   string `json:"senderId,omitempty"`
}

// Envelope is a persisted message populated with both parties' display info.
type Envelope struct {
	ID        string               `json:"_id"`
	Sender    identity.DisplayInfo `json:"sender"`
	Receiver  identity.DisplayInfo `json:"receiver"`
	Content   string               `json:"content"`
	Timestamp time.Time            `json:"timestamp"`
}

// UserStatus is the payload of userStatus.
type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// UserSignal is the payload of userTyping and userStoppedTyping.
type UserSignal struct {
	UserID string `json:"userId"`
}

// MessageError is the payload of messageError.
type MessageError struct {
	Code   Kind   `json:"code"`
	Reason string `json:"reason"`
}

// encodeFrame marshals an outbound event. The payload types above always
// marshal, so a failure here is a programmer error.
func encodeFrame(eventType string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		panic("encode " + eventType + ": " + err.Error())
	}
	frame, err := json.Marshal(Frame{Type: eventType, Data: raw})
	if err != nil {
		panic("encode " + eventType + ": " + err.Error())
	}
	return frame
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
