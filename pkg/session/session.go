// Package session tracks who is logged in and keeps the bearer credential
// across restarts.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"

	"feedsync/pkg/apperr"
	"feedsync/pkg/models"
)

type Backend interface {
	Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error)
	Register(ctx context.Context, creds models.Credentials) (models.AuthResponse, error)
	Session(ctx context.Context, token string) (models.User, error)
}

type Session struct {
	User       models.User
	Credential string
}

type Manager struct {
	backend Backend
	store   CredentialStore

	mu      sync.RWMutex
	current *Session
}

func NewManager(backend Backend, store CredentialStore) *Manager {
	return &Manager{backend: backend, store: store}
}

// Token returns the current credential, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Credential
}

func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	creds, err := credentials(username, password)
	if err != nil {
		return Session{}, err
	}
	resp, err := m.backend.Login(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	return m.establish(ctx, resp)
}

func (m *Manager) Register(ctx context.Context, username, password string) (Session, error) {
	creds, err := credentials(username, password)
	if err != nil {
		return Session{}, err
	}
	resp, err := m.backend.Register(ctx, creds)
	if err != nil {
		return Session{}, err
	}
	return m.establish(ctx, resp)
}

func credentials(username, password string) (models.Credentials, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.Credentials{}, apperr.Validation("username and password are required")
	}
	return models.Credentials{Username: username, Password: password}, nil
}

func (m *Manager) establish(ctx context.Context, resp models.AuthResponse) (Session, error) {
	if resp.Credential == "" {
		return Session{}, apperr.Auth("backend issued no credential")
	}
	s := Session{User: resp.User, Credential: resp.Credential}

	rec := Record{
		Credential: s.Credential,
		UserID:     s.User.ID,
		Username:   s.User.Username,
		SavedAt:    time.Now(),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		// the session still works for this run
		glog.Warningf("[SESSION] persist credential: %v", err)
	}

	m.set(&s)
	glog.Infof("[SESSION] logged in as %s (id=%d)", s.User.Username, s.User.ID)
	return s, nil
}

// Rehydrate restores the persisted session after validating it with the
// backend. It reports whether a session is active afterwards. A rejected
// credential is cleared and the manager stays anonymous; when the backend is
// unreachable the credential is kept for the next start.
func (m *Manager) Rehydrate(ctx context.Context) (bool, error) {
	rec, ok, err := m.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if expired(rec.Credential) {
		m.drop(ctx)
		return false, apperr.Auth("stored credential expired")
	}

	user, err := m.backend.Session(ctx, rec.Credential)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrAuth):
		m.drop(ctx)
		return false, err
	default:
		glog.Warningf("[SESSION] could not validate stored credential: %v", err)
		return false, err
	}

	m.set(&Session{User: user, Credential: rec.Credential})
	glog.Infof("[SESSION] restored session for %s", user.Username)
	return true, nil
}

// Logout forgets the session and the persisted credential.
func (m *Manager) Logout(ctx context.Context) error {
	m.set(nil)
	return m.store.Clear(ctx)
}

func (m *Manager) drop(ctx context.Context) {
	m.set(nil)
	if err := m.store.Clear(ctx); err != nil {
		glog.Warningf("[SESSION] clear credential: %v", err)
	}
	glog.Infof("[SESSION] stored credential rejected, continuing logged out")
}

func (m *Manager) set(s *Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

// expired reads the exp claim without verifying the signature. Credentials
// that are not JWTs are left to the backend to judge.
func expired(credential string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
