// Package auth caches provider bearer tokens and serializes the flows that
// obtain them.
package auth

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrRejected is returned by a request callback when the upstream
	// refused the token it was given.
	ErrRejected = errors.New("token rejected by provider")

	// ErrRejectedTwice means a freshly obtained token was refused as well.
	ErrRejectedTwice = errors.New("token rejected after re-authentication")

	ErrLockTimeout = errors.New("timed out waiting for login lock")

	// ErrAuthFailed marks a failed token refresh or login. The cause stays
	// wrapped alongside it; callers treat the job as finished.
	ErrAuthFailed = errors.New("authentication failed")
)

type Token struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Valid reports whether the token can still be sent at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Key derives a cache key from a credential or session identifier so that
// each identity gets its own slot without storing the raw secret.
func Key(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}
