package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTVerifier(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:  "id claim",
			token: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"id": "alice", "exp": future}),
			want:  "alice",
		},
		{
			name:  "sub fallback",
			token: signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "bob", "exp": future}),
			want:  "bob",
		},
		{
			name:    "expired",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"id": "alice", "exp": past}),
			wantErr: true,
		},
		{
			name:    "wrong secret",
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"id": "alice", "exp": future}),
			wantErr: true,
		},
		{
			name:    "no user id",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": future}),
			wantErr: true,
		},
		{name: "empty", token: "  ", wantErr: true},
		{name: "garbage", token: "not-a-jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.VerifyCredential(context.Background(), tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCredential) {
					t.Fatalf("expected ErrInvalidCredential, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("user id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewJWTVerifierRejectsEmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory(DisplayInfo{ID: "a", Name: "Alice", Email: "a@example.com"})

	info, err := dir.LookupDisplayInfo(context.Background(), "a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.Name != "Alice" {
		t.Errorf("name = %q, want Alice", info.Name)
	}

	if _, err := dir.LookupDisplayInfo(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParseSeedUsers(t *testing.T) {
	users, err := ParseSeedUsers([]string{"a:Alice:a@example.com", " b ", ""})
	if err != nil {
		t.Fatalf("ParseSeedUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].Email != "a@example.com" || users[1].Name != "b" {
		t.Errorf("unexpected users: %+v", users)
	}

	if _, err := ParseSeedUsers([]string{":nameless"}); err == nil {
		t.Error("expected error for entry without id")
	}
}
