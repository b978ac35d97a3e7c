// Package store provides the durable direct-message log and the account
// directories backed by the same databases.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrUnavailable wraps backend failures so callers can tell them apart from
// validation problems.
var ErrUnavailable = errors.New("message log unavailable")

// Message is one persisted direct message.
type Message struct {
	ID        string    `json:"_id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageLog is an append-only log of direct messages.
//
// Append must return only after the message is durable. Query returns the
// conversation between two users in both directions, oldest first.
type MessageLog interface {
	Append(ctx context.Context, sender, receiver, content string, ts time.Time) (string, error)
	Query(ctx context.Context, userA, userB string) ([]Message, error)
}

// unavailableError carries a backend failure while matching ErrUnavailable.
type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return e.op + ": " + ErrUnavailable.Error() + ": " + e.err.Error()
}

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// unavailable marks err as a backend failure of op. The cause stays
// reachable through errors.Is and errors.As.
func unavailable(op string, err error) error {
	return &unavailableError{op: op, err: err}
}
