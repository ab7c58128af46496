package otp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const mailosaurBaseURL = "https://mailosaur.com"

type MailosaurConfig struct {
	APIKey     string
	SentFrom   string
	BaseURL    string
	Timeout    time.Duration
	LookBehind time.Duration
}

// Mailosaur reads codes from the first server on the account.
type Mailosaur struct {
	client   *resty.Client
	sentFrom string
	behind   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	serverID string
}

type mailosaurServers struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

type mailosaurMessage struct {
	Text struct {
		Codes []struct {
			Value string `json:"value"`
		} `json:"codes"`
	} `json:"text"`
}

func NewMailosaur(cfg MailosaurConfig) *Mailosaur {
	if cfg.BaseURL == "" {
		cfg.BaseURL = mailosaurBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LookBehind == 0 {
		cfg.LookBehind = 2 * time.Minute
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetBasicAuth(cfg.APIKey, "")
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("accept", "application/json")

	return &Mailosaur{
		client:   client,
		sentFrom: cfg.SentFrom,
		behind:   cfg.LookBehind,
		now:      time.Now,
	}
}

func (m *Mailosaur) server(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serverID != "" {
		return m.serverID, nil
	}

	var servers mailosaurServers
	res, err := m.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&servers).
		Get("/api/servers")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("list mailosaur servers: status %d", res.StatusCode())
	}
	if len(servers.Items) == 0 || servers.Items[0].ID == "" {
		return "", errors.New("mailosaur account has no servers")
	}
	m.serverID = servers.Items[0].ID
	return m.serverID, nil
}

func (m *Mailosaur) Latest(ctx context.Context) (string, error) {
	serverID, err := m.server(ctx)
	if err != nil {
		return "", err
	}

	var msg mailosaurMessage
	res, err := m.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"server":        serverID,
			"receivedAfter": m.now().Add(-m.behind).UTC().Format(time.RFC3339),
		}).
		SetBody(map[string]string{"sentFrom": m.sentFrom}).
		ForceContentType("application/json").
		SetResult(&msg).
		Post("/api/messages/await")
	if err != nil {
		return "", err
	}
	// 204 means nothing matched yet.
	if res.StatusCode() == http.StatusNoContent || res.StatusCode() == http.StatusNotFound {
		return "", nil
	}
	if res.IsError() {
		return "", fmt.Errorf("fetch mailosaur message: status %d", res.StatusCode())
	}
	if len(msg.Text.Codes) == 0 {
		return "", nil
	}
	return msg.Text.Codes[0].Value, nil
}
