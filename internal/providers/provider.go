package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

type Provider interface {
	Name() string
	Search(ctx context.Context, job models.Job) (Result, error)
}

type ResultKind int

const (
	// ResultSuccess carries at least one itinerary.
	ResultSuccess ResultKind = iota
	// ResultEmpty means the provider validly reported no itineraries.
	ResultEmpty
	// ResultValidationFailure means the payload could not be understood.
	ResultValidationFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultEmpty:
		return "empty"
	case ResultValidationFailure:
		return "validation_failure"
	}
	return "unknown"
}

// Result is the outcome of a search that reached the provider and got an
// answer back. Transport, auth and lock failures are returned as errors
// instead.
type Result struct {
	Kind        ResultKind
	Itineraries []models.Itinerary
	IsUTC       bool
	Reason      error
	// Original holds the raw payloads for debug output.
	Original []json.RawMessage
}

func (r Result) JobResult(job models.Job) models.JobResult {
	data := r.Itineraries
	if r.Kind == ResultValidationFailure {
		data = nil
	}
	return models.JobResult{
		JobID:                  job.JobID,
		FrequentFlyerProgramID: job.FrequentFlyerProgramID,
		IsUTC:                  r.IsUTC,
		Success:                r.Kind != ResultValidationFailure,
		Data:                   data,
	}.Normalize()
}

func resultOf(itineraries []models.Itinerary, isUTC bool) Result {
	if len(itineraries) == 0 {
		return Result{Kind: ResultEmpty, Itineraries: []models.Itinerary{}, IsUTC: isUTC}
	}
	return Result{Kind: ResultSuccess, Itineraries: itineraries, IsUTC: isUTC}
}

func invalid(isUTC bool, reason error) Result {
	return Result{Kind: ResultValidationFailure, Itineraries: []models.Itinerary{}, IsUTC: isUTC, Reason: reason}
}

func (r Result) withOriginal(raw ...[]byte) Result {
	for _, b := range raw {
		if json.Valid(b) {
			r.Original = append(r.Original, json.RawMessage(b))
		}
	}
	return r
}

type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Err:      err,
	}
}

var (
	ErrMissingCredentials = errors.New("provider credentials are not configured")
	ErrNoDeviceToken      = errors.New("no device token available")
)
