package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// JWTVerifier validates HMAC-signed tokens and reads the user ID from the
// "id" claim, falling back to "sub".
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier returns a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// VerifyCredential implements Verifier.
func (v *JWTVerifier) VerifyCredential(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.Wrap(ErrInvalidCredential, "missing token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", errors.Wrap(ErrInvalidCredential, err.Error())
	}
	if !parsed.Valid {
		return "", errors.Wrap(ErrInvalidCredential, "token not valid")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.Wrap(ErrInvalidCredential, "claims type mismatch")
	}

	for _, key := range []string{"id", "sub"} {
		if id, ok := claims[key].(string); ok && strings.TrimSpace(id) != "" {
			return id, nil
		}
	}
	return "", errors.Wrap(ErrInvalidCredential, "token carries no user id")
}
