package store

import (
	"context"
	"sync"

	"github.com/and161185/qr-media-share/internal/backend"
	"github.com/and161185/qr-media-share/internal/model"
)

// AuthState is a snapshot of AuthStore.
type AuthState struct {
	User    *model.User
	Loading bool
}

// AuthStore mirrors the backend's session notifications. It never decides on
// its own that a user is signed in.
type AuthStore struct {
	auth backend.Auth

	mu      sync.RWMutex
	user    *model.User
	loading bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewAuthStore starts in the loading state with no user.
func NewAuthStore(auth backend.Auth) *AuthStore {
	return &AuthStore{auth: auth, loading: true, ready: make(chan struct{})}
}

// SignIn forwards the credentials. State changes arrive through the session subscription.
func (s *AuthStore) SignIn(ctx context.Context, email, password string) error {
	if err := requireConfigured(s.auth); err != nil {
		return err
	}
	_, err := s.auth.SignInWithPassword(ctx, email, password)
	return err
}

// SignUp creates an account. State changes arrive through the session subscription.
func (s *AuthStore) SignUp(ctx context.Context, email, password string) error {
	if err := requireConfigured(s.auth); err != nil {
		return err
	}
	_, err := s.auth.SignUp(ctx, email, password)
	return err
}

// SignOut ends the session and clears the user without waiting for the notification.
func (s *AuthStore) SignOut(ctx context.Context) error {
	if err := requireConfigured(s.auth); err != nil {
		return err
	}
	if err := s.auth.SignOut(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	return nil
}

// SetUser replaces the user and ends loading.
func (s *AuthStore) SetUser(u *model.User) {
	var c *model.User
	if u != nil {
		cp := *u
		c = &cp
	}
	s.mu.Lock()
	s.user = c
	s.loading = false
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once loading has ended for the first time.
func (s *AuthStore) Ready() <-chan struct{} { return s.ready }

// HandleSessionChange is the backend.SessionHandler that feeds SetUser.
func (s *AuthStore) HandleSessionChange(_ model.AuthEvent, sess *model.Session) {
	if sess == nil {
		s.SetUser(nil)
		return
	}
	s.SetUser(&sess.User)
}

// Subscribe registers the store for session changes. Returns nil when the backend is not configured.
func (s *AuthStore) Subscribe() backend.Subscription {
	if requireConfigured(s.auth) != nil {
		return nil
	}
	return s.auth.OnSessionChange(s.HandleSessionChange)
}

// State returns a snapshot.
func (s *AuthStore) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := AuthState{Loading: s.loading}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	return st
}

// CurrentUser returns the signed-in user or nil.
func (s *AuthStore) CurrentUser() *model.User {
	return s.State().User
}
