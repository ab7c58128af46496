package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

type session struct {
	id       int
	proxy    string
	http     *resty.Client
	badUntil time.Time
}

// Pool rotates through proxy sessions. Sessions marked bad sit out for the
// cooldown; when every session is cooling down the least recently failed
// one is used anyway.
type Pool struct {
	mu       sync.Mutex
	sessions []*session
	next     int
	cooldown time.Duration
	now      func() time.Time
}

func NewPool(proxies []string, cooldown time.Duration, newHTTP func(proxy string) *resty.Client) *Pool {
	if cooldown == 0 {
		cooldown = time.Minute
	}
	if len(proxies) == 0 {
		proxies = []string{""}
	}

	p := &Pool{cooldown: cooldown, now: time.Now}
	for i, proxy := range proxies {
		p.sessions = append(p.sessions, &session{id: i, proxy: proxy, http: newHTTP(proxy)})
	}
	return p
}

func (p *Pool) Next() *session {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	oldest := p.sessions[p.next]
	for range p.sessions {
		s := p.sessions[p.next]
		p.next = (p.next + 1) % len(p.sessions)
		if !now.Before(s.badUntil) {
			return s
		}
		if s.badUntil.Before(oldest.badUntil) {
			oldest = s
		}
	}
	return oldest
}

func (p *Pool) MarkBad(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.badUntil = p.now().Add(p.cooldown)
}

type ProxyConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	SessionIDPrefix string
	SessionTime     int
	SessionCount    int
}

// EvomiProxyList builds one sticky session URL per slot.
func EvomiProxyList(cfg ProxyConfig) []string {
	if cfg.Host == "" {
		return nil
	}
	urls := make([]string, 0, cfg.SessionCount)
	for i := 0; i < cfg.SessionCount; i++ {
		urls = append(urls, fmt.Sprintf("http://%s:%s_session-%s%03d_lifetime-%d@%s:%s",
			cfg.Username, cfg.Password, cfg.SessionIDPrefix, i, cfg.SessionTime, cfg.Host, cfg.Port))
	}
	return urls
}
