package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/matheus3301/parley/internal/auth"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/remote"
)

// Paths are the REST endpoints of the session API.
type Paths struct {
	SignIn  string
	SignOut string
	Refresh string
}

// AuthAPI talks to the REST session endpoints. It uses the raw transport:
// a refresh must never go through the gateway's refresh-on-401 path.
type AuthAPI struct {
	transport *remote.Transport
	tokens    remote.TokenSource
	paths     Paths
}

func NewAuthAPI(t *remote.Transport, tokens remote.TokenSource, paths Paths) *AuthAPI {
	return &AuthAPI{transport: t, tokens: tokens, paths: paths}
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	User        chat.User `json:"user"`
}

// SignIn exchanges credentials for an access token. The backend also sets
// the HTTP-only refresh cookie, which the transport's cookie jar keeps.
func (a *AuthAPI) SignIn(ctx context.Context, email, password string) (auth.Token, chat.User, error) {
	resp, err := a.transport.Do(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   a.paths.SignIn,
		Body:   map[string]string{"email": email, "password": password},
	}, "")
	if err != nil {
		return auth.Token{}, chat.User{}, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return auth.Token{}, chat.User{}, fmt.Errorf("decode sign-in response: %w", err)
	}
	return auth.ParseToken(tr.AccessToken), tr.User, nil
}

// SignOut revokes the refresh cookie on the backend.
func (a *AuthAPI) SignOut(ctx context.Context) error {
	_, err := a.transport.Do(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   a.paths.SignOut,
	}, a.tokens.Token().Value)
	return err
}

// RefreshAccessToken obtains a new access token using the refresh cookie.
func (a *AuthAPI) RefreshAccessToken(ctx context.Context) (auth.Token, error) {
	resp, err := a.transport.Do(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   a.paths.Refresh,
	}, "")
	if err != nil {
		return auth.Token{}, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return auth.Token{}, fmt.Errorf("decode refresh response: %w", err)
	}
	return auth.ParseToken(tr.AccessToken), nil
}
