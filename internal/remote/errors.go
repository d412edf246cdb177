package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CodeUnauthenticated is the GraphQL extensions.code the backend uses for an
// expired or invalid access token.
const CodeUnauthenticated = "UNAUTHENTICATED"

// Error is an application-level failure reported by the backend. Transport
// failures are never an *Error; they carry no structured code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// IsUnauthenticated reports whether err is the backend rejecting the bearer
// token, either as HTTP 401 or as a GraphQL UNAUTHENTICATED error.
func IsUnauthenticated(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Code == CodeUnauthenticated
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type errorBody struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Error   string     `json:"error"`
	Errors  []gqlError `json:"errors"`
}

// parseError extracts a backend error from a response. It returns nil for a
// successful response without a GraphQL errors array.
func parseError(status int, body []byte) *Error {
	var eb errorBody
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "{") {
		_ = json.Unmarshal(body, &eb)
	}

	if status < http.StatusBadRequest && len(eb.Errors) == 0 {
		return nil
	}

	e := &Error{Status: status}
	switch {
	case len(eb.Errors) > 0:
		e.Code = eb.Errors[0].Extensions.Code
		e.Message = eb.Errors[0].Message
	default:
		e.Code = eb.Code
		e.Message = eb.Message
		if e.Message == "" {
			e.Message = eb.Error
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
