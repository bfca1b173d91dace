package runner

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/molsearch"
)

// linearBackOff sleeps base + step × n before the (n+1)-th retry.
type linearBackOff struct {
	base    time.Duration
	step    time.Duration
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.base + time.Duration(b.attempt)*b.step
	b.attempt++
	return d
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return molsearch.IsRejected(err) ||
		errors.Is(err, molsearch.ErrConfig) ||
		errors.Is(err, molsearch.ErrInvalidQuery) ||
		errors.Is(err, molsearch.ErrCanceled)
}

// retry runs op up to Retries+1 times. It returns the number of attempts made and the
// last error. Permanent errors end the loop after the attempt that produced them.
func (r *Runner) retry(ctx context.Context, what string, op func(attempt int) error) (int, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: r.cfg.RetryBase, step: r.cfg.RetryStep}, uint64(r.cfg.Retries)),
		ctx,
	)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(attempts)
		r.metrics.ObserveAttempt(attemptOutcome(err))
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		r.logger.WarnContext(ctx, "attempt failed",
			"target", what,
			"attempt", attempts,
			"of", r.cfg.Retries+1,
			"sleep", next.Round(time.Millisecond),
			"error", err,
		)
	})

	if err != nil && ctx.Err() != nil && !errors.Is(err, molsearch.ErrCanceled) {
		err = errors.WithSecondaryError(molsearch.ErrCanceled, ctx.Err())
	}
	return attempts, err
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case molsearch.IsRejected(err):
		return "rejected"
	default:
		return "error"
	}
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.WithSecondaryError(molsearch.ErrCanceled, ctx.Err())
	case <-t.C:
		return nil
	}
}
