package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func countStatus(statuses []UserStatus, userID, status string) int {
	n := 0
	for _, s := range statuses {
		if s.UserID == userID && s.Status == status {
			n++
		}
	}
	return n
}

// TestPresenceOnlineOnFirstConnectionOnly verifies that a second connection
// of the same user does not announce them again.
func TestPresenceOnlineOnFirstConnectionOnly(t *testing.T) {
	env := newTestEnv(t)
	observer := env.connect("obs", "carol")

	env.connect("a1", "alice")
	env.connect("a2", "alice")

	if got := countStatus(observer.statuses(t), "alice", StatusOnline); got != 1 {
		t.Errorf("observer saw %d online events for alice, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.OnlineUsers); got != 2 {
		t.Errorf("OnlineUsers = %v, want 2", got)
	}
	if got := testutil.ToFloat64(env.metrics.ActiveConnections); got != 3 {
		t.Errorf("ActiveConnections = %v, want 3", got)
	}
}

// TestPresenceOfflineOnLastConnectionOnly covers the close of one of two
// connections and then the last one.
func TestPresenceOfflineOnLastConnectionOnly(t *testing.T) {
	env := newTestEnv(t)
	observer := env.connect("obs", "carol")
	a1 := env.connect("a1", "alice")
	a2 := env.connect("a2", "alice")
	lc := env.hub.Lifecycle()

	lc.Detach(a1)
	if got := countStatus(observer.statuses(t), "alice", StatusOffline); got != 0 {
		t.Fatalf("offline broadcast while alice still has a connection")
	}

	lc.Detach(a2)
	lc.Detach(a2)
	if got := countStatus(observer.statuses(t), "alice", StatusOffline); got != 1 {
		t.Errorf("observer saw %d offline events for alice, want 1", got)
	}
	if env.hub.Registry().IsOnline("alice") {
		t.Error("alice should be offline")
	}
	if got := testutil.ToFloat64(env.metrics.ActiveConnections); got != 1 {
		t.Errorf("ActiveConnections = %v, want 1", got)
	}
}

// TestPresenceReconnect verifies that a user who goes offline and comes
// back is announced online again, in transition order.
func TestPresenceReconnect(t *testing.T) {
	env := newTestEnv(t)
	observer := env.connect("obs", "carol")

	a1 := env.connect("a1", "alice")
	env.hub.Lifecycle().Detach(a1)
	env.connect("a2", "alice")

	var got []string
	for _, s := range observer.statuses(t) {
		if s.UserID == "alice" {
			got = append(got, s.Status)
		}
	}
	want := []string{StatusOnline, StatusOffline, StatusOnline}
	if len(got) != len(want) {
		t.Fatalf("alice transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("alice transitions = %v, want %v", got, want)
		}
	}
}

// TestPresenceBroadcastSkipsFailingConnections verifies that one dead
// connection does not stop the broadcast to others.
func TestPresenceBroadcastSkipsFailingConnections(t *testing.T) {
	env := newTestEnv(t)
	dead := env.connect("dead", "bob")
	dead.failWith(ErrSendBufferFull)
	observer := env.connect("obs", "carol")

	env.connect("a1", "alice")

	if got := countStatus(observer.statuses(t), "alice", StatusOnline); got != 1 {
		t.Errorf("observer saw %d online events for alice, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.DeliveryFailures.WithLabelValues(EventUserStatus)); got < 1 {
		t.Errorf("DeliveryFailures(userStatus) = %v, want at least 1", got)
	}
}

// TestPresenceOrderUnderConcurrentChurn attaches and detaches many
// connections of one user in parallel. The observer must see statuses
// strictly alternating and ending offline.
func TestPresenceOrderUnderConcurrentChurn(t *testing.T) {
	const workers = 200
	env := newTestEnv(t)
	observer := env.connect("obs", "carol")
	lc := env.hub.Lifecycle()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			lc.Attach(c)
			lc.Detach(c)
		}(newFakeConn(fmt.Sprintf("a%d", i), "alice"))
	}
	wg.Wait()

	var seen []string
	for _, s := range observer.statuses(t) {
		if s.UserID == "alice" {
			seen = append(seen, s.Status)
		}
	}
	if len(seen) == 0 {
		t.Fatal("observer saw no presence events for alice")
	}
	if seen[0] != StatusOnline {
		t.Errorf("first status = %q, want online", seen[0])
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("status %d repeats %q: %v", i, seen[i], seen)
		}
	}
	if last := seen[len(seen)-1]; last != StatusOffline {
		t.Errorf("last status = %q, want offline", last)
	}
	if env.hub.Registry().IsOnline("alice") {
		t.Error("alice should be offline after churn")
	}
	if got := testutil.ToFloat64(env.metrics.ActiveConnections); got != 1 {
		t.Errorf("ActiveConnections = %v, want 1", got)
	}
}
