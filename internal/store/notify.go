package store

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NotifyingLog publishes a "message created" event after every successful
// append. Publish failures are logged and never fail the append.
type NotifyingLog struct {
	MessageLog
	pub    Publisher
	prefix string
	log    *zap.Logger
}

// NewNotifyingLog decorates inner. Events go to "<prefix>.<receiver>".
func NewNotifyingLog(inner MessageLog, pub Publisher, prefix string, log *zap.Logger) *NotifyingLog {
	if prefix == "" {
		prefix = "chat.messages"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NotifyingLog{MessageLog: inner, pub: pub, prefix: prefix, log: log}
}

// Append implements MessageLog.
func (l *NotifyingLog) Append(ctx context.Context, sender, receiver, content string, ts time.Time) (string, error) {
	id, err := l.MessageLog.Append(ctx, sender, receiver, content, ts)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(Message{ID: id, Sender: sender, Receiver: receiver, Content: content, Timestamp: ts})
	if err != nil {
		l.log.Warn("encode message event", zap.String("id", id), zap.Error(err))
		return id, nil
	}
	if err := l.pub.Publish(l.prefix+"."+receiver, payload); err != nil {
		l.log.Warn("publish message event", zap.String("id", id), zap.Error(err))
	}
	return id, nil
}
