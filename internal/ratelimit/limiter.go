package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// ProviderLimiter keeps one token bucket per airline backend so a burst of
// jobs for one provider cannot trip its bot protection.
type ProviderLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	defaults Limit
}

type Limit struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultLimit() Limit {
	return Limit{
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

func New(defaults Limit) *ProviderLimiter {
	return &ProviderLimiter{
		limiters: make(map[string]*rate.Limiter),
		defaults: defaults,
	}
}

func (p *ProviderLimiter) limiter(provider string) *rate.Limiter {
	p.mu.RLock()
	l, ok := p.limiters[provider]
	p.mu.RUnlock()
	if ok {
		return l
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok = p.limiters[provider]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(p.defaults.RequestsPerSecond), p.defaults.Burst)
	p.limiters[provider] = l
	return l
}

func (p *ProviderLimiter) Set(provider string, l Limit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters[provider] = rate.NewLimiter(rate.Limit(l.RequestsPerSecond), l.Burst)
}

func (p *ProviderLimiter) Wait(ctx context.Context, provider string) error {
	return p.limiter(provider).Wait(ctx)
}

// ParseLimits reads "avianca=1:2,etihad=0.5:1" into per provider limits.
func ParseLimits(s string) (map[string]Limit, error) {
	out := make(map[string]Limit)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, spec, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("rate limit %q: missing '='", part)
		}
		rps, burst, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("rate limit %q: missing ':'", part)
		}
		r, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return nil, fmt.Errorf("rate limit %q: %w", part, err)
		}
		b, err := strconv.Atoi(burst)
		if err != nil {
			return nil, fmt.Errorf("rate limit %q: %w", part, err)
		}
		out[strings.TrimSpace(name)] = Limit{RequestsPerSecond: r, Burst: b}
	}
	return out, nil
}
