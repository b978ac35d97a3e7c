// Package identity holds the account-side collaborators of the chat core:
// credential verification and display-info lookup.
package identity

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidCredential is returned for missing, malformed, expired or
	// badly signed credentials.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNotFound is returned when a user ID does not resolve to an account.
	ErrNotFound = errors.New("user not found")
)

// DisplayInfo is the public part of an account attached to delivered messages.
type DisplayInfo struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Verifier turns an opaque credential into a stable user ID.
type Verifier interface {
	VerifyCredential(ctx context.Context, token string) (string, error)
}

// Directory resolves user IDs to display information.
type Directory interface {
	LookupDisplayInfo(ctx context.Context, userID string) (DisplayInfo, error)
}
