package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharmasatrya/awardsearch/internal/dispatcher"
	"github.com/dharmasatrya/awardsearch/internal/models"
)

const queuedMessage = "Flight Search Queued"

type Submitter interface {
	Has(provider string) bool
	Submit(provider string, job models.Job) error
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error
}

type JobHandler struct {
	jobs            Submitter
	status          StatusUpdater
	defaultProvider string
}

func NewJobHandler(jobs Submitter, status StatusUpdater, defaultProvider string) *JobHandler {
	return &JobHandler{
		jobs:            jobs,
		status:          status,
		defaultProvider: defaultProvider,
	}
}

// Register mounts the job API, the health check and the metrics endpoint.
func (h *JobHandler) Register(e *echo.Echo) {
	e.GET("/api/health", HealthHandler)
	e.POST("/api/flight/itinerary", h.Schedule)
	e.POST("/api/providers/:provider/flight/itinerary", h.Schedule)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (h *JobHandler) Schedule(c echo.Context) error {
	ctx := c.Request().Context()

	provider := c.Param("provider")
	if provider == "" {
		provider = h.defaultProvider
	}

	var req models.ScheduleSearchJob
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
			Code:    http.StatusBadRequest,
		})
	}

	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
	}

	if !h.jobs.Has(provider) {
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "unknown_provider",
			Message: fmt.Sprintf("%s: %s", dispatcher.ErrUnknownProvider, provider),
			Code:    http.StatusNotFound,
		})
	}

	// Queued has to reach the tracker before the job can report Failed.
	job := req.Format()
	if !job.Debug {
		if err := h.status.UpdateStatus(ctx, job.JobID, models.JobQueued); err != nil {
			slog.Warn("failed to update job status", "job_id", job.JobID, "status", models.JobQueued, "err", err)
		}
	}

	if err := h.jobs.Submit(provider, job); err != nil {
		if !job.Debug {
			if err := h.status.UpdateStatus(ctx, job.JobID, models.JobFailed); err != nil {
				slog.Warn("failed to update job status", "job_id", job.JobID, "status", models.JobFailed, "err", err)
			}
		}
		code, name := http.StatusInternalServerError, "schedule_error"
		if errors.Is(err, dispatcher.ErrUnknownProvider) {
			code, name = http.StatusNotFound, "unknown_provider"
		}
		return c.JSON(code, models.ErrorResponse{
			Error:   name,
			Message: "Failed to queue flight search: " + err.Error(),
			Code:    code,
		})
	}
	slog.Info(queuedMessage, "provider", provider, "job_id", job.JobID)

	return c.JSON(http.StatusCreated, models.QueuedResponse{
		Data: models.QueuedData{Message: queuedMessage},
	})
}

func HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthResponse{Status: "Running"})
}
