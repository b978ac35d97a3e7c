package server

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/metrics"
)

// SignalKind is the kind of an ephemeral typing signal.
type SignalKind int

// Typing signal kinds.
const (
	SignalStart SignalKind = iota
	SignalStop
)

func (k SignalKind) String() string {
	if k == SignalStop {
		return "stop"
	}
	return "start"
}

func (k SignalKind) event() string {
	if k == SignalStop {
		return EventUserStoppedTyping
	}
	return EventUserTyping
}

// SignalRouter delivers typing indicators to the receiver's live connections.
// Nothing is stored, acknowledged or retried; the stop timer lives on the
// sending client.
type SignalRouter struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewSignalRouter reads targets from registry.
func NewSignalRouter(registry *Registry, m *metrics.Metrics, log *zap.Logger) *SignalRouter {
	return &SignalRouter{registry: registry, metrics: m, log: log}
}

// Signal pushes {userId: senderID} to every connection of receiverID and
// returns how many connections it reached. Offline receivers and signals to
// oneself are dropped silently.
func (s *SignalRouter) Signal(senderID, receiverID string, kind SignalKind) int {
	if receiverID == "" || receiverID == senderID {
		return 0
	}
	s.metrics.TypingSignals.WithLabelValues(kind.String()).Inc()

	targets := s.registry.ConnectionsFor(receiverID)
	if len(targets) == 0 {
		return 0
	}
	payload := encodeFrame(kind.event(), UserSignal{UserID: senderID})
	return deliverAll(targets, payload, kind.event(), s.metrics, s.log)
}
