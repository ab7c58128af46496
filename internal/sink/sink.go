// Package sink delivers terminal job outcomes: results and status updates go
// to the reward seat tracker (and optionally Kafka), debug runs go to disk.
package sink

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

// Sink receives the outcome of non debug jobs.
type Sink interface {
	SaveResults(ctx context.Context, result models.JobResult) error
	UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error
}

// DebugSink receives the outcome of debug jobs together with the raw
// provider payloads.
type DebugSink interface {
	SaveDebug(ctx context.Context, result models.JobResult, original []json.RawMessage) error
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) SaveResults(ctx context.Context, result models.JobResult) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveResults(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	var errs []error
	for _, s := range m {
		if err := s.UpdateStatus(ctx, jobID, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything. It stands in when no tracker is configured.
type Discard struct{}

func (Discard) SaveResults(context.Context, models.JobResult) error { return nil }

func (Discard) UpdateStatus(context.Context, string, models.JobStatus) error { return nil }
