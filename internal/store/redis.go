package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLog keeps each conversation in its own Redis stream.
type RedisLog struct {
	rdb    redis.Cmdable
	maxLen int64
}

// OpenRedis builds a client and pings it.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

// NewRedisLog stores streams trimmed to roughly maxLen entries; maxLen <= 0
// keeps everything.
func NewRedisLog(rdb redis.Cmdable, maxLen int64) *RedisLog {
	return &RedisLog{rdb: rdb, maxLen: maxLen}
}

// ConversationKey names the stream shared by two users regardless of
// direction.
func ConversationKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return fmt.Sprintf("chat:dm:%s:%s", p[0], p[1])
}

// Append implements MessageLog.
func (l *RedisLog) Append(ctx context.Context, sender, receiver, content string, ts time.Time) (string, error) {
	args := &redis.XAddArgs{
		Stream: ConversationKey(sender, receiver),
		Values: map[string]interface{}{
			"sender":   sender,
			"receiver": receiver,
			"content":  content,
			"ts":       ts.UnixNano(),
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", unavailable("append stream entry", err)
	}
	return id, nil
}

// Query implements MessageLog. Stream order is append order.
func (l *RedisLog) Query(ctx context.Context, userA, userB string) ([]Message, error) {
	entries, err := l.rdb.XRange(ctx, ConversationKey(userA, userB), "-", "+").Result()
	if err != nil {
		return nil, unavailable("read stream", err)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		m, err := decodeStreamEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func decodeStreamEntry(e redis.XMessage) (Message, error) {
	str := func(key string) string {
		s, _ := e.Values[key].(string)
		return s
	}
	nanos, err := strconv.ParseInt(str("ts"), 10, 64)
	if err != nil {
		return Message{}, errors.Wrapf(err, "decode timestamp of stream entry %s", e.ID)
	}
	return Message{
		ID:        e.ID,
		Sender:    str("sender"),
		Receiver:  str("receiver"),
		Content:   str("content"),
		Timestamp: time.Unix(0, nanos).UTC(),
	}, nil
}
