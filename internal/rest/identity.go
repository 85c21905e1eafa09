package rest

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the current user, extracted from the auth token claims. The
// token is only decoded here, never validated; the server is the verifier.
type Identity struct {
	UserID   int64
	FullName string
	Avatar   string
}

// IdentityFromToken extracts the user identity from a JWT without verifying
// the signature.
func IdentityFromToken(token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	id := &Identity{}
	switch v := claims["userId"].(type) {
	case float64:
		id.UserID = int64(v)
	case string:
		id.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if id.UserID == 0 {
		if sub, err := claims.GetSubject(); err == nil {
			id.UserID, _ = strconv.ParseInt(sub, 10, 64)
		}
	}
	if id.UserID == 0 {
		return nil, fmt.Errorf("token carries no user id")
	}

	if name, ok := claims["fullName"].(string); ok {
		id.FullName = name
	}
	if avatar, ok := claims["avatarUrl"].(string); ok {
		id.Avatar = avatar
	}
	return id, nil
}
