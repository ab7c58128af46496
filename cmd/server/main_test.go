package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmasatrya/awardsearch/internal/auth"
)

// holdRefresh starts a refresh for key that blocks until the test ends.
func holdRefresh(t *testing.T, m *auth.Manager, key string) {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	go func() {
		_, _ = m.Token(context.Background(), key, func(context.Context) (auth.Token, error) {
			close(started)
			<-release
			return auth.Token{AccessToken: "slow", ExpiresAt: time.Now().Add(time.Hour)}, nil
		})
	}()
	<-started
}

func quickRefresh(context.Context) (auth.Token, error) {
	return auth.Token{AccessToken: "fast", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestTokenManagerRefreshesKeysIndependently(t *testing.T) {
	m := newTokenManager("etihad", nil, nil)
	holdRefresh(t, m, auth.Key("xd-slow"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tok, err := m.Token(ctx, auth.Key("xd-other"), quickRefresh)
	require.NoError(t, err)
	assert.Equal(t, "fast", tok.AccessToken)
}

func TestTokenManagerSerializesLogins(t *testing.T) {
	opts := auth.LockOptions{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond}
	m := newTokenManager("thai", nil, &opts)
	holdRefresh(t, m, "session-a")

	_, err := m.Token(context.Background(), "session-b", quickRefresh)
	assert.ErrorIs(t, err, auth.ErrLockTimeout)
}
