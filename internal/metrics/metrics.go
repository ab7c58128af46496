package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "award_search_jobs_total",
		Help: "Search jobs by provider and terminal outcome",
	}, []string{"provider", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "award_search_job_duration_seconds",
		Help:    "Time from dispatch to terminal outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"provider"})

	ItinerariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "award_search_itineraries_total",
		Help: "Itineraries produced by provider",
	}, []string{"provider"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "award_search_token_refreshes_total",
		Help: "Token refresh attempts by provider and result",
	}, []string{"provider", "result"})

	TransportRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "award_search_transport_retries_total",
		Help: "Job attempts retried after a transport failure",
	}, []string{"provider"})
)
