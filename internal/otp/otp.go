// Package otp reads one-time login codes delivered by email.
package otp

import (
	"context"
	"errors"
	"time"
)

var ErrOTPTimeout = errors.New("one-time code not received in time")

// Source returns the most recent code, or "" when none has arrived yet.
type Source interface {
	Latest(ctx context.Context) (string, error)
}

// Poll asks src for a code until one arrives or timeout elapses.
func Poll(ctx context.Context, src Source, interval, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		code, err := src.Latest(ctx)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if code != "" {
			return code, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrOTPTimeout
			}
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}
