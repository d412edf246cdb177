package auth

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
)

var (
	// ErrUnauthenticated is returned when the backend rejects the session
	// and the access token could not be refreshed.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSignedOut is returned for operations that need a session when none exists.
	ErrSignedOut = errors.New("signed out")
	// ErrAlreadySignedIn is returned by SignIn when a session is active.
	ErrAlreadySignedIn = errors.New("already signed in")
)

// Token is a short-lived bearer credential. It lives only in process memory.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ParseToken wraps a raw bearer token, reading the JWT exp claim when the
// token is a JWT. The signature is not verified; only the backend can do that.
func ParseToken(raw string) Token {
	tok := Token{Value: raw}
	if exp, ok := tokenExpiry(raw); ok {
		tok.ExpiresAt = exp
	}
	return tok
}

// Empty reports whether the token carries no credential.
func (t Token) Empty() bool {
	return t.Value == ""
}

func tokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	rawExp, ok := claims["exp"]
	if !ok {
		return time.Time{}, false
	}

	switch exp := rawExp.(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case int64:
		return time.Unix(exp, 0), true
	case int:
		return time.Unix(int64(exp), 0), true
	default:
		return time.Time{}, false
	}
}
