// Package server coordinates connection registration, presence, message
// routing and shutdown for the chat WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/identity"
	"github.com/Tyrowin/campuschat/internal/metrics"
	"github.com/Tyrowin/campuschat/internal/store"
)

// Deps are the collaborators a Hub needs. Logger and Metrics are optional.
type Deps struct {
	Verifier  identity.Verifier
	Directory identity.Directory
	Messages  store.MessageLog
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// Now overrides the message clock in tests.
	Now func() time.Time

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Hub owns the registry and the components built around it, and tracks the
// pump goroutines of every client for graceful shutdown.
type Hub struct {
	cfg      *Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader

	registry  *Registry
	presence  *PresenceTracker
	messages  *MessageRouter
	signals   *SignalRouter
	lifecycle *Lifecycle

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub wires the realtime core. cfg is copied and sanitized.
func NewHub(cfg *Config, deps Deps) *Hub {
	c := *cfg
	c.Sanitize()

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(metrics.Config{})
	}

	registry := NewRegistry()
	presence := NewPresenceTracker(registry, m, log.Named("presence"))
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:       &c,
		log:       log,
		metrics:   m,
		origins:   newOriginPolicy(c.AllowedOrigins, log),
		registry:  registry,
		presence:  presence,
		messages:  NewMessageRouter(registry, deps.Directory, deps.Messages, m, log.Named("router"), deps.Now, deps.TracerProvider),
		signals:   NewSignalRouter(registry, m, log.Named("signals")),
		lifecycle: NewLifecycle(deps.Verifier, registry, presence, m, log.Named("lifecycle")),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.checkOrigin,
	}
	return h
}

// Registry exposes the connection registry for read-only queries.
func (h *Hub) Registry() *Registry { return h.registry }

// Messages returns the message router.
func (h *Hub) Messages() *MessageRouter { return h.messages }

// Signals returns the typing signal router.
func (h *Hub) Signals() *SignalRouter { return h.signals }

// Lifecycle returns the lifecycle manager.
func (h *Hub) Lifecycle() *Lifecycle { return h.lifecycle }

// Config returns the sanitized configuration in use.
func (h *Hub) Config() Config { return *h.cfg }

// start attaches an upgraded client and launches its pumps.
func (h *Hub) start(client *Client) {
	client.markAuthenticated()
	h.lifecycle.Attach(client)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	// Shutdown may have taken its snapshot before this client registered.
	if h.closing() {
		client.Close()
	}
}

// closing reports whether Shutdown has begun.
func (h *Hub) closing() bool {
	return h.ctx.Err() != nil
}

// Shutdown stops accepting connections, closes every live client and waits
// for their goroutines, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")
	h.cancel()

	clients := h.registry.All()
	for _, conn := range clients {
		if c, ok := conn.(interface{ Close() }); ok {
			c.Close()
		}
	}
	h.log.Info("closed client connections", zap.Int("count", len(clients)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
