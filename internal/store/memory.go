package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryLog keeps messages in process memory.
type MemoryLog struct {
	mu       sync.RWMutex
	messages []Message
	nextID   uint64
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements MessageLog.
func (l *MemoryLog) Append(_ context.Context, sender, receiver, content string, ts time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := strconv.FormatUint(l.nextID, 10)
	l.messages = append(l.messages, Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: ts,
	})
	return id, nil
}

// Query implements MessageLog.
func (l *MemoryLog) Query(_ context.Context, userA, userB string) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Message
	for _, m := range l.messages {
		if (m.Sender == userA && m.Receiver == userB) || (m.Sender == userB && m.Receiver == userA) {
			out = append(out, m)
		}
	}
	// Append order already breaks timestamp ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Len reports how many messages have been appended.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
