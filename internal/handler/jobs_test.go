package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmasatrya/awardsearch/internal/models"
)

const validJob = `{
  "jobId": "job-1",
  "providerId": "prov-1",
  "frequentFlyerProgramId": "ffp-1",
  "searchParams": {
    "id": "search-1",
    "journeyType": "One Way",
    "cabinClass": "Business",
    "fromDate": "2025-03-01T00:00:00.000Z",
    "toDate": null,
    "fromDestinationType": "Airport",
    "toDestinationType": "Airport",
    "fromAirport": {"iataCode": "JFK"},
    "toAirport": {"iataCode": "LHR"},
    "fromCity": {"code": "NYC", "name": "New York", "country": {"isoCode2": "US", "name": "United States", "id": "1"}},
    "toCity": {"code": "LON", "name": "London", "country": {"isoCode2": "GB", "name": "United Kingdom", "id": "2"}}
  }
}`

type fakeJobs struct {
	mu        sync.Mutex
	known     map[string]bool
	providers []string
	jobs      []models.Job
	err       error
	// status, when set, is sampled at submit time.
	status   *fakeStatus
	atSubmit []models.JobStatus
}

func (f *fakeJobs) Has(provider string) bool {
	return f.known == nil || f.known[provider]
}

func (f *fakeJobs) Submit(provider string, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != nil {
		f.atSubmit = append(f.atSubmit, f.status.updates[job.JobID])
	}
	if f.err != nil {
		return f.err
	}
	f.providers = append(f.providers, provider)
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeStatus struct {
	updates map[string]models.JobStatus
	history []models.JobStatus
	err     error
}

func (f *fakeStatus) UpdateStatus(_ context.Context, jobID string, status models.JobStatus) error {
	if f.updates == nil {
		f.updates = map[string]models.JobStatus{}
	}
	f.updates[jobID] = status
	f.history = append(f.history, status)
	return f.err
}

func serve(h *JobHandler, method, path, body string) *httptest.ResponseRecorder {
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(NewJobHandler(&fakeJobs{}, &fakeStatus{}, "avianca"), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "Running"}`, rec.Body.String())
}

func TestScheduleQueuesJob(t *testing.T) {
	jobs := &fakeJobs{}
	status := &fakeStatus{}
	rec := serve(NewJobHandler(jobs, status, "avianca"), http.MethodPost, "/api/flight/itinerary", validJob)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"data": {"message": "Flight Search Queued"}, "error": {}}`, rec.Body.String())

	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, "avianca", jobs.providers[0])
	job := jobs.jobs[0]
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "JFK", job.Params.FromAirport)
	assert.Equal(t, models.CabinBusiness, job.Params.CabinClass)
	assert.Equal(t, "US", job.Params.FromCity.CountryCode)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), job.Params.FromDate)
	assert.Nil(t, job.Params.ToDate)

	assert.Equal(t, models.JobQueued, status.updates["job-1"])
}

func TestScheduleProviderRoute(t *testing.T) {
	jobs := &fakeJobs{}
	rec := serve(NewJobHandler(jobs, &fakeStatus{}, "avianca"), http.MethodPost, "/api/providers/thai/flight/itinerary", validJob)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"thai"}, jobs.providers)
}

func TestScheduleDebugSkipsStatus(t *testing.T) {
	status := &fakeStatus{}
	body := strings.Replace(validJob, `"jobId": "job-1",`, `"jobId": "job-1", "debug": true,`, 1)
	rec := serve(NewJobHandler(&fakeJobs{}, status, "qatar"), http.MethodPost, "/api/flight/itinerary", body)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, status.updates)
}

func TestScheduleStatusFailureStillQueues(t *testing.T) {
	status := &fakeStatus{err: errors.New("tracker down")}
	rec := serve(NewJobHandler(&fakeJobs{}, status, "qatar"), http.MethodPost, "/api/flight/itinerary", validJob)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestScheduleValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing job id", strings.Replace(validJob, `"jobId": "job-1",`, "", 1), string(models.ErrMissingJobID)},
		{"bad cabin", strings.Replace(validJob, `"Business"`, `"Coach"`, 1), string(models.ErrInvalidCabinClass)},
		{"bad date", strings.Replace(validJob, `"2025-03-01T00:00:00.000Z"`, `"tomorrow"`, 1), string(models.ErrInvalidFromDate)},
		{"missing origin", strings.Replace(validJob, `{"iataCode": "JFK"}`, `{}`, 1), string(models.ErrMissingOrigin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			rec := serve(NewJobHandler(jobs, &fakeStatus{}, "avianca"), http.MethodPost, "/api/flight/itinerary", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"validation_error"`)
			assert.Contains(t, rec.Body.String(), tt.msg)
			assert.Empty(t, jobs.jobs)
		})
	}
}

func TestScheduleMalformedBody(t *testing.T) {
	rec := serve(NewJobHandler(&fakeJobs{}, &fakeStatus{}, "avianca"), http.MethodPost, "/api/flight/itinerary", `{"jobId": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"invalid_request"`)
}

func TestScheduleUnknownProvider(t *testing.T) {
	jobs := &fakeJobs{known: map[string]bool{"avianca": true}}
	status := &fakeStatus{}
	rec := serve(NewJobHandler(jobs, status, "avianca"), http.MethodPost, "/api/providers/garuda/flight/itinerary", validJob)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"unknown_provider"`)
	assert.Empty(t, jobs.jobs)
	assert.Empty(t, status.updates)
}

func TestScheduleMarksQueuedBeforeSubmit(t *testing.T) {
	status := &fakeStatus{}
	jobs := &fakeJobs{status: status}
	rec := serve(NewJobHandler(jobs, status, "avianca"), http.MethodPost, "/api/flight/itinerary", validJob)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []models.JobStatus{models.JobQueued}, jobs.atSubmit)
	assert.Equal(t, []models.JobStatus{models.JobQueued}, status.history)
}

func TestScheduleSubmitFailure(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("dispatcher stopped")}
	status := &fakeStatus{}
	rec := serve(NewJobHandler(jobs, status, "avianca"), http.MethodPost, "/api/flight/itinerary", validJob)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"schedule_error"`)
	assert.Equal(t, []models.JobStatus{models.JobQueued, models.JobFailed}, status.history)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(NewJobHandler(&fakeJobs{}, &fakeStatus{}, "avianca"), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
