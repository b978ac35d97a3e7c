package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

func TestMemoryLogQueryBothDirectionsOldestFirst(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mustAppend := func(sender, receiver, content string, ts time.Time) {
		t.Helper()
		if _, err := log.Append(ctx, sender, receiver, content, ts); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	mustAppend("a", "b", "first", base)
	mustAppend("b", "a", "second", base.Add(time.Second))
	mustAppend("a", "c", "other conversation", base.Add(2*time.Second))
	mustAppend("a", "b", "third", base.Add(time.Second))

	got, err := log.Query(ctx, "b", "a")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, want[i])
		}
	}
	if log.Len() != 4 {
		t.Errorf("Len() = %d, want 4", log.Len())
	}
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

type failingLog struct{ MessageLog }

func (failingLog) Append(context.Context, string, string, string, time.Time) (string, error) {
	return "", ErrUnavailable
}

func TestNotifyingLogPublishesAfterAppend(t *testing.T) {
	pub := &fakePublisher{}
	log := NewNotifyingLog(NewMemoryLog(), pub, "", zaptest.NewLogger(t))

	id, err := log.Append(context.Background(), "a", "b", "hi", time.Now())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "chat.messages.b" {
		t.Fatalf("unexpected subjects: %v", pub.subjects)
	}
	var event Message
	if err := json.Unmarshal(pub.payloads[0], &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.ID != id || event.Content != "hi" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestNotifyingLogIgnoresPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	log := NewNotifyingLog(NewMemoryLog(), pub, "events", zaptest.NewLogger(t))

	if _, err := log.Append(context.Background(), "a", "b", "hi", time.Now()); err != nil {
		t.Fatalf("append should succeed despite publish failure: %v", err)
	}
}

func TestNotifyingLogSkipsPublishOnAppendFailure(t *testing.T) {
	pub := &fakePublisher{}
	log := NewNotifyingLog(failingLog{}, pub, "events", zaptest.NewLogger(t))

	if _, err := log.Append(context.Background(), "a", "b", "hi", time.Now()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(pub.subjects) != 0 {
		t.Errorf("published %d events for a failed append", len(pub.subjects))
	}
}

func TestConversationKeyIsSymmetric(t *testing.T) {
	if ConversationKey("alice", "bob") != ConversationKey("bob", "alice") {
		t.Error("conversation key depends on direction")
	}
	if ConversationKey("alice", "bob") == ConversationKey("alice", "carol") {
		t.Error("distinct conversations share a key")
	}
}

func TestDecodeStreamEntry(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 42, time.UTC)
	m, err := decodeStreamEntry(redis.XMessage{
		ID: "1-0",
		Values: map[string]interface{}{
			"sender":   "a",
			"receiver": "b",
			"content":  "hello",
			"ts":       "1714521600000000042",
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != "1-0" || m.Sender != "a" || m.Receiver != "b" || m.Content != "hello" {
		t.Errorf("unexpected message: %+v", m)
	}
	if !m.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", m.Timestamp, ts)
	}

	if _, err := decodeStreamEntry(redis.XMessage{ID: "2-0", Values: map[string]interface{}{"ts": "x"}}); err == nil {
		t.Error("expected error for bad timestamp")
	}
}

func TestMongoRefRoundTrip(t *testing.T) {
	oid := primitive.NewObjectID()
	if ref, ok := mongoRef(oid.Hex()).(primitive.ObjectID); !ok || ref != oid {
		t.Errorf("hex id not converted to ObjectId")
	}
	if ref, ok := mongoRef("alice").(string); !ok || ref != "alice" {
		t.Errorf("plain id not kept as string")
	}
	if got := mongoRefString(oid); got != oid.Hex() {
		t.Errorf("mongoRefString(oid) = %q", got)
	}
	if got := mongoRefString(42); got != "" {
		t.Errorf("mongoRefString(42) = %q, want empty", got)
	}
}

// TestUnavailableKeepsCause verifies that backend failures match both
// ErrUnavailable and the driver error.
func TestUnavailableKeepsCause(t *testing.T) {
	err := unavailable("insert message", context.DeadlineExceeded)

	if !errors.Is(err, ErrUnavailable) {
		t.Error("error should match ErrUnavailable")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("error should match the underlying cause")
	}
	if errors.Is(err, context.Canceled) {
		t.Error("error should not match unrelated causes")
	}
	if got, want := err.Error(), "insert message: message log unavailable: context deadline exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
