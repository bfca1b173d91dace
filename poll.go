package molsearch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
)

// Polling defaults.
const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultMaxPollInterval = 10 * time.Second
	DefaultMaxWait         = 10 * time.Minute
)

const (
	// pollGrowth is the fraction of the base interval added per attempt.
	pollGrowth = 0.15
	// pollGrowthAttempts caps the number of attempts that contribute growth.
	pollGrowthAttempts = 20
)

// errNotReady marks a probe that succeeded but found no results yet.
var errNotReady = errors.New("results not available yet")

// PollConfig controls AwaitReady.
type PollConfig struct {
	// Interval is the base sleep between probes.
	Interval time.Duration

	// MaxInterval caps a single sleep.
	MaxInterval time.Duration

	// MaxWait bounds the whole wait.
	MaxWait time.Duration

	// Status, when set, is queried on every attempt and logged. It never decides readiness.
	Status StatusChecker

	// Logger receives progress at debug level. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// pollBackOff grows the interval by pollGrowth of the base per attempt and stops once
// MaxWait has elapsed since start.
type pollBackOff struct {
	interval    time.Duration
	maxInterval time.Duration
	maxWait     time.Duration
	start       time.Time
	attempt     int
	now         func() time.Time
}

var _ backoff.BackOff = (*pollBackOff)(nil)

func (b *pollBackOff) NextBackOff() time.Duration {
	if b.now().Sub(b.start) > b.maxWait {
		return backoff.Stop
	}
	b.attempt++
	factor := 1 + pollGrowth*float64(min(b.attempt, pollGrowthAttempts))
	return min(time.Duration(float64(b.interval)*factor), b.maxInterval)
}

func (b *pollBackOff) Reset() {
	b.attempt = 0
}

// AwaitReady blocks until the job's first results page carries at least one identifier.
//
// Readiness is probed through the results themselves because the service's status
// field is unreliable. Rejections (401/403/422) end the wait immediately. Any other
// probe failure counts as "not ready". After cfg.MaxWait the wait ends with a *TimeoutError.
func AwaitReady(ctx context.Context, f PageFetcher, handle JobHandle, cfg PollConfig, opts ...SearchOption) error {
	cfg = cfg.withDefaults()
	start := time.Now()

	b := &pollBackOff{
		interval:    cfg.Interval,
		maxInterval: cfg.MaxInterval,
		maxWait:     cfg.MaxWait,
		start:       start,
		now:         time.Now,
	}

	attempt := 0
	probe := func() error {
		attempt++
		if cfg.Status != nil {
			status, err := cfg.Status.JobStatus(ctx, handle)
			if err != nil {
				cfg.Logger.DebugContext(ctx, "job status unavailable", "job", handle, "error", err)
			} else {
				cfg.Logger.DebugContext(ctx, "job status", "job", handle, "status", status)
			}
		}

		page, err := f.FetchPage(ctx, handle, 0, opts...)
		if err != nil {
			if IsRejected(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if page == nil || page.IDs == 0 {
			return errNotReady
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		cfg.Logger.DebugContext(ctx, "waiting for results",
			"job", handle,
			"attempt", attempt,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"next", next.Round(time.Millisecond),
			"reason", err,
		)
	}

	err := backoff.RetryNotify(probe, backoff.WithContext(b, ctx), notify)
	switch {
	case err == nil:
		return nil
	case IsRejected(err):
		return err
	case ctx.Err() != nil:
		return errors.WithSecondaryError(ErrCanceled, ctx.Err())
	default:
		return &TimeoutError{Handle: handle, Elapsed: time.Since(start)}
	}
}
