// Package dispatcher runs search jobs in the background and hands their
// outcome to the sinks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/filter"
	"github.com/dharmasatrya/awardsearch/internal/metrics"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/providers"
	"github.com/dharmasatrya/awardsearch/internal/sink"
	"github.com/dharmasatrya/awardsearch/internal/transport"
	"github.com/dharmasatrya/awardsearch/pkg/amount"
)

var ErrUnknownProvider = errors.New("unknown provider")

type Config struct {
	Workers     int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelays []time.Duration
	SinkTimeout time.Duration
	Rules       filter.RuleSet
}

func DefaultConfig() Config {
	return Config{
		Workers:    8,
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
		},
		SinkTimeout: 15 * time.Second,
	}
}

type Dispatcher struct {
	registry *Registry
	sink     sink.Sink
	debug    sink.DebugSink
	config   Config
	slots    chan struct{}
	wg       sync.WaitGroup
}

func New(registry *Registry, s sink.Sink, debug sink.DebugSink, config Config) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.SinkTimeout == 0 {
		config.SinkTimeout = 15 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		sink:     s,
		debug:    debug,
		config:   config,
		slots:    make(chan struct{}, config.Workers),
	}
}

// Has reports whether provider is registered.
func (d *Dispatcher) Has(provider string) bool {
	_, ok := d.registry.Get(provider)
	return ok
}

// Submit queues job for provider and returns immediately. The job's outcome
// is only observable through the sinks.
func (d *Dispatcher) Submit(provider string, job models.Job) error {
	p, ok := d.registry.Get(provider)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.slots <- struct{}{}
		defer func() { <-d.slots }()

		d.Run(context.Background(), p, job)
	}()
	return nil
}

// Wait blocks until every submitted job finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one job synchronously and delivers its outcome.
func (d *Dispatcher) Run(ctx context.Context, p providers.Provider, job models.Job) {
	start := time.Now()
	name := p.Name()
	slog.Info("processing job", "provider", name, "job_id", job.JobID, "debug", job.Debug)

	searchCtx := ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	result, err := d.searchWithRetry(searchCtx, p, job)
	metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.SinkTimeout)
	defer cancel()

	if err != nil {
		metrics.JobsTotal.WithLabelValues(name, "failed").Inc()
		slog.Error("job failed", "provider", name, "job_id", job.JobID, "err", err)
		if job.Debug {
			return
		}
		if err := d.sink.UpdateStatus(sinkCtx, job.JobID, models.JobFailed); err != nil {
			slog.Error("failed to report job failure", "provider", name, "job_id", job.JobID, "err", err)
		}
		return
	}

	jr := result.JobResult(job)
	jr.Data = filter.Apply(name, jr.Data, d.config.Rules.For(name))
	metrics.JobsTotal.WithLabelValues(name, result.Kind.String()).Inc()
	metrics.ItinerariesTotal.WithLabelValues(name).Add(float64(len(jr.Data)))

	if job.Debug {
		if err := d.debug.SaveDebug(sinkCtx, jr, result.Original); err != nil {
			slog.Error("failed to write debug data", "provider", name, "job_id", job.JobID, "err", err)
		}
		return
	}
	if err := d.sink.SaveResults(sinkCtx, jr); err != nil {
		slog.Error("failed to save job results", "provider", name, "job_id", job.JobID, "err", err)
		return
	}
	slog.Info("job completed", "provider", name, "job_id", job.JobID, "outcome", result.Kind.String(),
		"itineraries", len(jr.Data), "lowest", lowestMiles(jr.Data), "elapsed", time.Since(start))
}

// lowestMiles formats the cheapest positive miles price across its, or "-".
func lowestMiles(its []models.Itinerary) string {
	lowest := 0.0
	for _, it := range its {
		for _, f := range it.FareDetails {
			if f.MilesAmount > 0 && (lowest == 0 || f.MilesAmount < lowest) {
				lowest = f.MilesAmount
			}
		}
	}
	if lowest == 0 {
		return "-"
	}
	return amount.FormatMiles(lowest)
}

// searchWithRetry retries transport failures only. Auth, lock and
// validation outcomes are final, including a login that failed on the wire.
func (d *Dispatcher) searchWithRetry(ctx context.Context, p providers.Provider, job models.Job) (providers.Result, error) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return providers.Result{}, ctx.Err()
		default:
		}

		if attempt > 0 && len(d.config.RetryDelays) > 0 {
			delayIdx := attempt - 1
			if delayIdx >= len(d.config.RetryDelays) {
				delayIdx = len(d.config.RetryDelays) - 1
			}

			select {
			case <-time.After(d.config.RetryDelays[delayIdx]):
			case <-ctx.Done():
				return providers.Result{}, ctx.Err()
			}
		}

		result, err := p.Search(ctx, job)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !transport.IsTransport(err) || errors.Is(err, auth.ErrAuthFailed) {
			return providers.Result{}, err
		}
		if attempt < d.config.MaxRetries {
			metrics.TransportRetries.WithLabelValues(p.Name()).Inc()
		}
		slog.Warn("provider attempt failed", "provider", p.Name(), "job_id", job.JobID, "attempt", attempt+1, "err", err)
	}

	return providers.Result{}, lastErr
}
