package server

import (
	"context"
	"hash/maphash"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/identity"
	"github.com/Tyrowin/campuschat/internal/metrics"
)

// State is the lifecycle state of one connection.
type State int32

// Connection states. Rejected and Closed are terminal.
const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

const stripeCount = 64

// stripes is a fixed set of mutexes selected by key hash.
type stripes struct {
	seed maphash.Seed
	mu   [stripeCount]sync.Mutex
}

func newStripes() *stripes {
	return &stripes{seed: maphash.MakeSeed()}
}

func (s *stripes) lock(key string) func() {
	m := &s.mu[maphash.String(s.seed, key)%stripeCount]
	m.Lock()
	return m.Unlock
}

// Lifecycle authenticates connections and is the only writer of the
// registry. Register/deregister and the resulting presence broadcast run
// under the user's transition stripe so one user's online/offline events
// reach every connection in transition order.
type Lifecycle struct {
	verifier    identity.Verifier
	registry    *Registry
	presence    *PresenceTracker
	metrics     *metrics.Metrics
	log         *zap.Logger
	transitions *stripes
}

// NewLifecycle wires a lifecycle manager.
func NewLifecycle(
	verifier identity.Verifier,
	registry *Registry,
	presence *PresenceTracker,
	m *metrics.Metrics,
	log *zap.Logger,
) *Lifecycle {
	return &Lifecycle{
		verifier:    verifier,
		registry:    registry,
		presence:    presence,
		metrics:     m,
		log:         log,
		transitions: newStripes(),
	}
}

// Authenticate resolves credential to a user ID. Any failure is an auth
// error and the caller must not register the connection.
func (l *Lifecycle) Authenticate(ctx context.Context, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		l.metrics.Rejections.WithLabelValues("missing_credential").Inc()
		return "", newError(KindAuth, "authentication required", nil)
	}
	userID, err := l.verifier.VerifyCredential(ctx, credential)
	if err != nil {
		reason := "invalid_credential"
		if !errors.Is(err, identity.ErrInvalidCredential) {
			reason = "verifier_error"
		}
		l.metrics.Rejections.WithLabelValues(reason).Inc()
		return "", newError(KindAuth, "authentication failed", err)
	}
	return userID, nil
}

// registered reports whether conn is currently in the registry.
func (l *Lifecycle) registered(conn Connection) bool {
	for _, c := range l.registry.ConnectionsFor(conn.UserID()) {
		if c.ID() == conn.ID() {
			return true
		}
	}
	return false
}

// Attach registers an authenticated connection and announces the user when
// it is their first connection. Attaching a connection that is already
// registered only replaces the entry.
func (l *Lifecycle) Attach(conn Connection) {
	userID := conn.UserID()
	unlock := l.transitions.lock(userID)
	defer unlock()

	if l.registered(conn) {
		l.registry.Register(userID, conn)
		return
	}
	first := l.registry.Register(userID, conn)
	l.metrics.ActiveConnections.Inc()
	l.presence.OnConnectionAdded(userID, first)
	l.log.Info("connection registered",
		zap.String("user", userID),
		zap.String("conn", conn.ID()),
		zap.Bool("first", first))
}

// Detach removes conn from the registry and announces the user offline when
// it was their last connection. Calling Detach twice is harmless.
func (l *Lifecycle) Detach(conn Connection) {
	userID := conn.UserID()
	unlock := l.transitions.lock(userID)
	defer unlock()

	// Deregister reports false both for "others remain" and "already gone",
	// so consult membership first to keep the gauge exact.
	if !l.registered(conn) {
		return
	}

	wasLast := l.registry.Deregister(userID, conn)
	l.metrics.ActiveConnections.Dec()
	l.presence.OnConnectionRemoved(userID, wasLast)
	l.log.Info("connection unregistered",
		zap.String("user", userID),
		zap.String("conn", conn.ID()),
		zap.Bool("last", wasLast))
}
