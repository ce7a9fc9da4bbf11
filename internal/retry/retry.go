// Package retry runs one outbound call under a per-attempt timeout with a
// small fixed number of attempts and a fixed delay between them.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// Policy bounds one retried call.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// Timeout applies to each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// State describes the retry loop after a failed attempt. It exists only for
// the duration of one call.
type State struct {
	Attempt       int
	LastErrorKind failure.Kind
	NextDelay     time.Duration
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. An attempt that exceeds its timeout is a transient
// failure. The last error is returned unchanged when attempts run out.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	start := time.Now()

	for attempt := 1; ; attempt++ {
		began := time.Now()
		err := call(ctx, op, p.Timeout, fn)
		latency := time.Since(began)

		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("op", op).
					Int("attempt", attempt).
					Dur("totalLatency", time.Since(start)).
					Msg("Call succeeded after retry")
			}
			return nil
		}
		if !failure.IsTransient(err) {
			return err
		}

		state := State{Attempt: attempt, LastErrorKind: failure.KindOf(err), NextDelay: p.Delay}
		if attempt >= attempts {
			log.Warn().Err(err).
				Str("op", op).
				Int("attempt", state.Attempt).
				Int("maxAttempts", attempts).
				Dur("latency", latency).
				Dur("totalLatency", time.Since(start)).
				Msg("Retries exhausted")
			return err
		}

		log.Warn().Err(err).
			Str("op", op).
			Int("attempt", state.Attempt).
			Int("maxAttempts", attempts).
			Stringer("errorKind", state.LastErrorKind).
			Dur("latency", latency).
			Dur("nextDelay", state.NextDelay).
			Msg("Transient failure, retrying")

		if err := sleep(ctx, state.NextDelay); err != nil {
			return failure.Transient(op, "cancelled while waiting to retry", err)
		}
	}
}

func call(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return failure.Transient(op, "invocation cancelled", err)
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = fn(callCtx)
	if err == nil {
		return nil
	}
	if _, classified := failure.As(err); !classified && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return failure.Transient(op, "call exceeded its timeout", err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
