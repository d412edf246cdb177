package auth

import (
	"sync"

	"github.com/matheus3301/parley/internal/chat"
)

// Credentials is the process-wide holder of the current access token and
// the signed-in user. Every outgoing call reads it; only the refresh
// coordinator and explicit sign-in/sign-out write it.
//
// The generation changes on every SignIn and Clear, so a writer that started
// under one session can tell that the session has since ended.
type Credentials struct {
	mu    sync.RWMutex
	token Token
	user  chat.User
	gen   uint64
}

// NewCredentials returns an empty holder.
func NewCredentials() *Credentials {
	return &Credentials{}
}

func (c *Credentials) Token() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) User() chat.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// UserID returns the signed-in user's id, or chat.PendingSender when unknown.
func (c *Credentials) UserID() chat.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user.ID == "" {
		return chat.PendingSender
	}
	return c.user.ID
}

// SetTokenIf stores t only while the session generation is still gen.
func (c *Credentials) SetTokenIf(gen uint64, t Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.token = t
	return true
}

// SignIn stores both token and user and starts a new generation.
func (c *Credentials) SignIn(t Token, u chat.User) {
	c.mu.Lock()
	c.token = t
	c.user = u
	c.gen++
	c.mu.Unlock()
}

// Clear drops the token and user and starts a new generation.
func (c *Credentials) Clear() {
	c.mu.Lock()
	c.clear()
	c.mu.Unlock()
}

// ClearIf clears only while the session generation is still gen.
func (c *Credentials) ClearIf(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.clear()
	return true
}

// Generation identifies the current session.
func (c *Credentials) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

func (c *Credentials) clear() {
	c.token = Token{}
	c.user = chat.User{}
	c.gen++
}

// Present reports whether a token is held.
func (c *Credentials) Present() bool {
	return !c.Token().Empty()
}
