package server

import (
	"fmt"
	"hash/maphash"
	"sort"
	"sync"
)

// Connection is one live, authenticated duplex transport as seen by the
// registry and the routers.
type Connection interface {
	// ID is unique per connection instance and never reused.
	ID() string
	// UserID is the identity bound at authentication.
	UserID() string
	// Deliver enqueues payload without blocking.
	Deliver(payload []byte) error
}

const registryShards = 64

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[string]Connection
}

// Registry maps user IDs to their live connections. A user is online iff its
// key is present. Each key belongs to exactly one shard, so updates for one
// user are atomic and updates for users on different shards run in parallel.
type Registry struct {
	seed   maphash.Seed
	shards [registryShards]*registryShard
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{seed: maphash.MakeSeed()}
	for i := range r.shards {
		r.shards[i] = &registryShard{users: make(map[string]map[string]Connection)}
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	return r.shards[maphash.String(r.seed, userID)%registryShards]
}

func checkOwner(userID string, conn Connection) {
	if conn.UserID() != userID {
		panic(newError(KindRegistryInconsistency,
			fmt.Sprintf("connection %s belongs to %q, not %q", conn.ID(), conn.UserID(), userID), nil))
	}
}

// Register adds conn under userID and reports whether this was the user's
// first live connection. Registering the same connection ID again replaces
// the entry.
func (r *Registry) Register(userID string, conn Connection) bool {
	checkOwner(userID, conn)
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[userID]
	if !ok {
		set = make(map[string]Connection, 1)
		s.users[userID] = set
	}
	set[conn.ID()] = conn
	return !ok
}

// Deregister removes conn and reports whether the user has no connections
// left. Removing a connection that is not registered returns false.
func (r *Registry) Deregister(userID string, conn Connection) bool {
	checkOwner(userID, conn)
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[userID]
	if !ok {
		return false
	}
	if len(set) == 0 {
		panic(newError(KindRegistryInconsistency, fmt.Sprintf("empty connection set for %q", userID), nil))
	}
	if _, ok := set[conn.ID()]; !ok {
		return false
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(s.users, userID)
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID string) []Connection {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// All returns a snapshot of every live connection. Shards are read one at a
// time, so the result is consistent per user, not globally.
func (r *Registry) All() []Connection {
	var out []Connection
	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.users {
			for _, c := range set {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Online returns the sorted IDs of users with live connections.
func (r *Registry) Online() []string {
	var out []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.users {
			out = append(out, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.users {
			n += len(set)
		}
		s.mu.RUnlock()
	}
	return n
}
