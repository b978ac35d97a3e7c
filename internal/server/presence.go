package server

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/metrics"
)

// PresenceTracker turns registry occupancy transitions into userStatus
// broadcasts to every live connection. It keeps no history.
type PresenceTracker struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewPresenceTracker reads fan-out targets from registry.
func NewPresenceTracker(registry *Registry, m *metrics.Metrics, log *zap.Logger) *PresenceTracker {
	return &PresenceTracker{registry: registry, metrics: m, log: log}
}

// OnConnectionAdded broadcasts "online" when first is true.
func (p *PresenceTracker) OnConnectionAdded(userID string, first bool) {
	if !first {
		return
	}
	p.metrics.OnlineUsers.Inc()
	p.broadcast(userID, StatusOnline)
}

// OnConnectionRemoved broadcasts "offline" when wasLast is true.
func (p *PresenceTracker) OnConnectionRemoved(userID string, wasLast bool) {
	if !wasLast {
		return
	}
	p.metrics.OnlineUsers.Dec()
	p.broadcast(userID, StatusOffline)
}

func (p *PresenceTracker) broadcast(userID, status string) {
	payload := encodeFrame(EventUserStatus, UserStatus{UserID: userID, Status: status})
	targets := p.registry.All()

	delivered := deliverAll(targets, payload, EventUserStatus, p.metrics, p.log)
	p.log.Debug("presence broadcast",
		zap.String("user", userID),
		zap.String("status", status),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", delivered))
}

// deliverAll pushes payload to every target. Failures are isolated per
// connection; the number of successful enqueues is returned.
func deliverAll(targets []Connection, payload []byte, event string, m *metrics.Metrics, log *zap.Logger) int {
	delivered := 0
	for _, c := range targets {
		if err := c.Deliver(payload); err != nil {
			m.DeliveryFailures.WithLabelValues(event).Inc()
			log.Debug("delivery failed",
				zap.String("event", event),
				zap.String("conn", c.ID()),
				zap.String("user", c.UserID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	m.Deliveries.WithLabelValues(event).Add(float64(delivered))
	return delivered
}
