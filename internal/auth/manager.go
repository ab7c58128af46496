package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dharmasatrya/awardsearch/internal/metrics"
)

// Refresher runs the provider's token flow from scratch.
type Refresher func(ctx context.Context) (Token, error)

// Manager owns the token lifecycle for one provider:
// NoToken -> Authenticating -> Valid -> (Expired|Rejected) -> Authenticating.
type Manager struct {
	provider string
	store    Store
	lock     Lock
	group    singleflight.Group
	now      func() time.Time
}

type ManagerOption func(*Manager)

// WithLock serializes refreshes across callers that share the lock, not
// just across callers of this Manager.
func WithLock(l Lock) ManagerOption {
	return func(m *Manager) { m.lock = l }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(provider string, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{provider: provider, store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a cached token for key or obtains a new one. Concurrent
// callers for the same key share a single refresh.
func (m *Manager) Token(ctx context.Context, key string, refresh Refresher) (Token, error) {
	if tok, ok := m.cached(ctx, key); ok {
		return tok, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.authenticate(ctx, key, refresh)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

func (m *Manager) authenticate(ctx context.Context, key string, refresh Refresher) (Token, error) {
	if tok, ok := m.cached(ctx, key); ok {
		return tok, nil
	}

	if m.lock != nil {
		release, err := m.lock.Acquire(ctx)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues(m.provider, "lock_timeout").Inc()
			return Token{}, fmt.Errorf("%s login: %w", m.provider, err)
		}
		defer release()

		// Another process may have logged in while we waited.
		if tok, ok := m.cached(ctx, key); ok {
			return tok, nil
		}
	}

	slog.Debug("authenticating", "provider", m.provider)
	tok, err := refresh(ctx)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(m.provider, "error").Inc()
		return Token{}, fmt.Errorf("%s token refresh: %w: %w", m.provider, ErrAuthFailed, err)
	}
	if tok.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues(m.provider, "error").Inc()
		return Token{}, fmt.Errorf("%s token refresh: %w: empty access token", m.provider, ErrAuthFailed)
	}
	metrics.TokenRefreshes.WithLabelValues(m.provider, "ok").Inc()

	if err := m.store.Save(ctx, key, tok); err != nil {
		slog.Warn("failed to cache token", "provider", m.provider, "err", err)
	}
	slog.Debug("token valid", "provider", m.provider, "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (m *Manager) cached(ctx context.Context, key string) (Token, bool) {
	tok, ok, err := m.store.Load(ctx, key)
	if err != nil {
		slog.Warn("failed to load cached token", "provider", m.provider, "err", err)
		return Token{}, false
	}
	if !ok {
		return Token{}, false
	}
	if !tok.Valid(m.now()) {
		slog.Debug("token expired", "provider", m.provider, "expired_at", tok.ExpiresAt)
		return Token{}, false
	}
	return tok, true
}

// Invalidate drops the cached token for key.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	slog.Debug("token rejected", "provider", m.provider)
	return m.store.Delete(ctx, key)
}

// Do calls fn with a valid token. When fn reports ErrRejected the token is
// dropped and fn runs once more with a new one; a second rejection fails
// with ErrRejectedTwice.
func (m *Manager) Do(ctx context.Context, key string, refresh Refresher, fn func(context.Context, Token) error) error {
	tok, err := m.Token(ctx, key, refresh)
	if err != nil {
		return err
	}

	err = fn(ctx, tok)
	if !errors.Is(err, ErrRejected) {
		return err
	}

	if err := m.Invalidate(ctx, key); err != nil {
		return err
	}
	tok, err = m.Token(ctx, key, refresh)
	if err != nil {
		return err
	}

	err = fn(ctx, tok)
	if errors.Is(err, ErrRejected) {
		_ = m.Invalidate(ctx, key)
		return fmt.Errorf("%s: %w", m.provider, ErrRejectedTwice)
	}
	return err
}
