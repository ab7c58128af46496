// Package transport sends provider request descriptors over HTTP through a
// pool of proxy sessions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dharmasatrya/awardsearch/internal/ratelimit"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Request is a fully built HTTP call. Builders produce it without I/O.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

type TransportError struct {
	Provider   string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned %d: %v", e.Provider, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var ErrUnexpectedStatus = errors.New("unexpected status")

// IsTransport reports whether err came from the network layer.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ExpectOK turns a non-2xx response into a TransportError.
func ExpectOK(provider string, req Request, res Response) error {
	if res.OK() {
		return nil
	}
	return &TransportError{
		Provider:   provider,
		URL:        req.URL,
		StatusCode: res.StatusCode,
		Err:        ErrUnexpectedStatus,
	}
}

// ExpectStatus is ExpectOK for providers that accept one exact status.
func ExpectStatus(provider string, req Request, res Response, status int) error {
	if res.StatusCode == status {
		return nil
	}
	return &TransportError{
		Provider:   provider,
		URL:        req.URL,
		StatusCode: res.StatusCode,
		Err:        ErrUnexpectedStatus,
	}
}

type Options struct {
	Provider  string
	Timeout   time.Duration
	UserAgent string
	Proxies   []string
	Cooldown  time.Duration
	Limiter   *ratelimit.ProviderLimiter
}

type Client struct {
	provider string
	pool     *Pool
	limiter  *ratelimit.ProviderLimiter
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	newHTTP := func(proxy string) *resty.Client {
		client := resty.New()
		client.SetHeader("user-agent", opts.UserAgent)
		client.SetTimeout(opts.Timeout)
		if proxy != "" {
			client.SetProxy(proxy)
		}
		return client
	}

	return &Client{
		provider: opts.Provider,
		pool:     NewPool(opts.Proxies, opts.Cooldown, newHTTP),
		limiter:  opts.Limiter,
	}
}

func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.provider); err != nil {
			return Response{}, &TransportError{Provider: c.provider, URL: req.URL, Err: err}
		}
	}

	session := c.pool.Next()

	r := session.http.R().SetContext(ctx)
	for k, v := range req.Header {
		r.SetHeader(k, v)
	}
	if req.Body != "" {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(strings.ToUpper(req.Method), req.URL)
	if err != nil {
		c.pool.MarkBad(session)
		slog.Warn("request failed", "provider", c.provider, "url", req.URL, "session", session.id, "err", err)
		return Response{}, &TransportError{Provider: c.provider, URL: req.URL, Err: err}
	}

	if res.StatusCode() == http.StatusTooManyRequests {
		c.pool.MarkBad(session)
	}

	return Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
	}, nil
}
