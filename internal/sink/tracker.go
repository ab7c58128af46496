package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

type TrackerConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// Tracker talks to the reward seat tracker service.
type Tracker struct {
	client *resty.Client
}

type trackerResponse struct {
	Data struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"data"`
}

type statusUpdate struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(cfg.Endpoint)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("content-type", "application/json")
	client.SetHeader("accept", "application/json")

	return &Tracker{client: client}
}

func (t *Tracker) SaveResults(ctx context.Context, result models.JobResult) error {
	slog.Info("saving job results", "job_id", result.JobID, "itineraries", len(result.Data))
	return t.post(ctx, "/job/save-results", result.Normalize())
}

func (t *Tracker) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	slog.Info("updating job status", "job_id", jobID, "status", status)
	return t.post(ctx, "/job/update-status", statusUpdate{JobID: jobID, Status: status})
}

func (t *Tracker) post(ctx context.Context, path string, body any) error {
	var out trackerResponse
	res, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&out).
		Post(path)
	if err != nil {
		return fmt.Errorf("tracker %s: %w", path, err)
	}
	if res.IsError() {
		return fmt.Errorf("tracker %s: status %d: %s", path, res.StatusCode(), res.String())
	}
	slog.Debug("tracker accepted", "path", path, "id", out.Data.ID, "message", out.Data.Message)
	return nil
}
