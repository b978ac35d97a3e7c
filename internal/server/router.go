package server

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/identity"
	"github.com/Tyrowin/campuschat/internal/metrics"
	"github.com/Tyrowin/campuschat/internal/store"
)

const tracerName = "github.com/Tyrowin/campuschat/internal/server"

// monotonicClock never returns a time before one it already returned.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *monotonicClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Millisecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// MessageRouter persists direct messages and fans them out to every live
// connection of the sender and the receiver.
type MessageRouter struct {
	registry  *Registry
	directory identity.Directory
	log       store.MessageLog
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	clock     *monotonicClock
	senders   *stripes
}

// NewMessageRouter wires a router. now may be nil to use time.Now and tp
// may be nil to use the global tracer provider.
func NewMessageRouter(
	registry *Registry,
	directory identity.Directory,
	log store.MessageLog,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
	tp trace.TracerProvider,
) *MessageRouter {
	if now == nil {
		now = time.Now
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &MessageRouter{
		registry:  registry,
		directory: directory,
		log:       log,
		metrics:   m,
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
		clock:     &monotonicClock{now: now},
		senders:   newStripes(),
	}
}

// Send validates, persists and delivers one message. The returned error is
// an *Error of kind validation, unknown_user or persistence; delivery
// failures never surface here.
func (r *MessageRouter) Send(ctx context.Context, senderID, receiverID, content string) (*Envelope, error) {
	ctx, span := r.tracer.Start(ctx, "MessageRouter.Send", trace.WithAttributes(
		attribute.String("chat.sender", senderID),
		attribute.String("chat.receiver", receiverID),
	))
	defer span.End()

	env, err := r.send(ctx, senderID, receiverID, content)
	if err != nil {
		kind := KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		r.metrics.SendFailures.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.message_id", env.ID))
	return env, nil
}

func (r *MessageRouter) send(ctx context.Context, senderID, receiverID, content string) (*Envelope, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, newError(KindValidation, "receiver is required", nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, newError(KindValidation, "content must not be empty", nil)
	}

	// Once accepted a send runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	receiver, err := r.lookup(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	sender, err := r.lookup(ctx, senderID)
	if err != nil {
		return nil, err
	}

	// Timestamp, append and enqueue happen under the sender's stripe so one
	// sender's stream is stored and delivered in submission order.
	unlock := r.senders.lock(senderID)
	defer unlock()

	ts := r.clock.next()
	id, err := r.log.Append(ctx, senderID, receiverID, content, ts)
	if err != nil {
		return nil, newError(KindPersistence, "failed to save message", err)
	}
	r.metrics.MessagesPersisted.Inc()

	env := &Envelope{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: ts,
	}

	targets := uniqueConnections(r.registry.ConnectionsFor(senderID), r.registry.ConnectionsFor(receiverID))
	delivered := deliverAll(targets, encodeFrame(EventNewMessage, env), EventNewMessage, r.metrics, r.logger)
	r.logger.Debug("message routed",
		zap.String("id", id),
		zap.String("sender", senderID),
		zap.String("receiver", receiverID),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", delivered))
	return env, nil
}

func (r *MessageRouter) lookup(ctx context.Context, userID string) (identity.DisplayInfo, error) {
	info, err := r.directory.LookupDisplayInfo(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.DisplayInfo{}, newError(KindUnknownUser, fmt.Sprintf("user %s does not exist", userID), err)
	}
	if err != nil {
		return identity.DisplayInfo{}, newError(KindPersistence, "account lookup failed", err)
	}
	if info.ID == "" {
		info.ID = userID
	}
	return info, nil
}

// History returns the conversation between two users, populated and oldest
// first.
func (r *MessageRouter) History(ctx context.Context, userID, peerID string) ([]Envelope, error) {
	self, err := r.lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	peer, err := r.lookup(ctx, peerID)
	if err != nil {
		return nil, err
	}

	msgs, err := r.log.Query(ctx, userID, peerID)
	if err != nil {
		return nil, newError(KindPersistence, "failed to load messages", err)
	}

	byID := map[string]identity.DisplayInfo{userID: self, peerID: peer}
	out := make([]Envelope, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Envelope{
			ID:        m.ID,
			Sender:    byID[m.Sender],
			Receiver:  byID[m.Receiver],
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}

// uniqueConnections merges connection sets, keeping one entry per ID.
func uniqueConnections(sets ...[]Connection) []Connection {
	seen := make(map[string]struct{})
	var out []Connection
	for _, set := range sets {
		for _, c := range set {
			if _, ok := seen[c.ID()]; ok {
				continue
			}
			seen[c.ID()] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
