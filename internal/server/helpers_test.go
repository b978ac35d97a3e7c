package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/campuschat/internal/identity"
	"github.com/Tyrowin/campuschat/internal/metrics"
	"github.com/Tyrowin/campuschat/internal/store"
)

const testSecret = "test-secret"

const testOrigin = "http://localhost:8080"

// fakeConn records every payload delivered to it.
type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	err    error
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Deliver(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakeConn) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// framesOf decodes the delivered frames of the given type.
func (f *fakeConn) framesOf(t *testing.T, eventType string) []json.RawMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []json.RawMessage
	for _, raw := range f.frames {
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("delivered frame is not JSON: %v", err)
		}
		if frame.Type == eventType {
			out = append(out, frame.Data)
		}
	}
	return out
}

func (f *fakeConn) statuses(t *testing.T) []UserStatus {
	t.Helper()
	var out []UserStatus
	for _, raw := range f.framesOf(t, EventUserStatus) {
		var s UserStatus
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("decode userStatus: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func (f *fakeConn) messages(t *testing.T) []Envelope {
	t.Helper()
	var out []Envelope
	for _, raw := range f.framesOf(t, EventNewMessage) {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode newMessage: %v", err)
		}
		out = append(out, env)
	}
	return out
}

// failingLog is a MessageLog whose appends always fail.
type failingLog struct {
	store.MessageLog
}

func (failingLog) Append(context.Context, string, string, string, time.Time) (string, error) {
	return "", store.ErrUnavailable
}

type testEnv struct {
	hub       *Hub
	log       *store.MemoryLog
	directory *identity.MemoryDirectory
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
}

type envOption func(cfg *Config, deps *Deps)

func withMessageLog(l store.MessageLog) envOption {
	return func(_ *Config, deps *Deps) { deps.Messages = l }
}

func withClock(now func() time.Time) envOption {
	return func(_ *Config, deps *Deps) { deps.Now = now }
}

func withLogger(log *zap.Logger) envOption {
	return func(_ *Config, deps *Deps) { deps.Logger = log }
}

func withTracerProvider(tp trace.TracerProvider) envOption {
	return func(_ *Config, deps *Deps) { deps.TracerProvider = tp }
}

func withConfig(fn func(cfg *Config)) envOption {
	return func(cfg *Config, _ *Deps) { fn(cfg) }
}

// newTestEnv builds a hub backed by in-memory stores with users alice, bob
// and carol.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	verifier, err := identity.NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	env := &testEnv{
		log: store.NewMemoryLog(),
		directory: identity.NewMemoryDirectory(
			identity.DisplayInfo{ID: "alice", Name: "Alice", Email: "alice@example.com"},
			identity.DisplayInfo{ID: "bob", Name: "Bob", Email: "bob@example.com"},
			identity.DisplayInfo{ID: "carol", Name: "Carol", Email: "carol@example.com"},
		),
		registry: prometheus.NewRegistry(),
	}
	env.metrics = metrics.New(metrics.Config{Registry: env.registry})

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	deps := Deps{
		Verifier:  verifier,
		Directory: env.directory,
		Messages:  env.log,
		Logger:    zaptest.NewLogger(t),
		Metrics:   env.metrics,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	env.hub = NewHub(cfg, deps)
	t.Cleanup(func() { _ = env.hub.Shutdown(2 * time.Second) })
	return env
}

// connect attaches a fake connection for userID.
func (e *testEnv) connect(id, userID string) *fakeConn {
	c := newFakeConn(id, userID)
	e.hub.Lifecycle().Attach(c)
	return c
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// startServer serves the hub's routes over httptest.
func (e *testEnv) startServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(SetupRoutes(e.hub, e.registry))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// dial opens a WebSocket as userID and waits until the registry sees it.
func (e *testEnv) dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	before := len(e.hub.Registry().ConnectionsFor(userID))

	conn, resp, err := dialWS(wsURL(srv, signToken(t, userID)))
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, func() bool { return len(e.hub.Registry().ConnectionsFor(userID)) > before })
	return conn
}

func dialWS(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	return dialer.Dial(url, headers)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func send(t *testing.T, conn *websocket.Conn, eventType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", eventType, err)
	}
	if err := conn.WriteJSON(Frame{Type: eventType, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

// readUntil reads frames until one of eventType arrives and decodes its
// data into v.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string, v interface{}) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if frame.Type != eventType {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(frame.Data, v); err != nil {
				t.Fatalf("decode %s: %v", eventType, err)
			}
		}
		return
	}
}
