package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MemoryDirectory is an in-process Directory used for development and tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]DisplayInfo
}

// NewMemoryDirectory returns a directory pre-populated with users.
func NewMemoryDirectory(users ...DisplayInfo) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]DisplayInfo, len(users))}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Add inserts or replaces a user.
func (d *MemoryDirectory) Add(u DisplayInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// LookupDisplayInfo implements Directory.
func (d *MemoryDirectory) LookupDisplayInfo(_ context.Context, userID string) (DisplayInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return DisplayInfo{}, errors.Wrapf(ErrNotFound, "user %q", userID)
	}
	return u, nil
}

// ParseSeedUsers parses "id:name:email" entries. Name and email are optional;
// a missing name defaults to the ID.
func ParseSeedUsers(entries []string) ([]DisplayInfo, error) {
	users := make([]DisplayInfo, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		u := DisplayInfo{ID: strings.TrimSpace(parts[0])}
		if u.ID == "" {
			return nil, errors.Errorf("seed user %q has no id", entry)
		}
		u.Name = u.ID
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			u.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			u.Email = strings.TrimSpace(parts[2])
		}
		users = append(users, u)
	}
	return users, nil
}
