package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Retry policy for transient provider failures.
const (
	// maxAttempts bounds the total tries per call, first attempt included.
	maxAttempts = 3
	// baseBackoff is the delay before the first retry.
	baseBackoff = 500 * time.Millisecond
	// maxBackoff caps the exponential growth.
	maxBackoff = 8 * time.Second
)

// Retry runs fn up to maxAttempts times, backing off exponentially with
// jitter between attempts. Only errors classified retriable are retried;
// everything else returns immediately. Context cancellation aborts the
// wait and returns the context error.
func Retry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsRetriable(err) {
			return err
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := addJitter(expBackoff(baseBackoff, attempt, maxBackoff))

		log.WarnContext(ctx, "transient model error, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return err
}

// expBackoff returns base * 2^attempt capped at max.
func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > max {
		return max
	}

	return d
}

// addJitter extends the delay by up to 25% to spread retry storms.
func addJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
