package session

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NextRetryDelay returns the wait after failed attempt N (1-based).
func NextRetryDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt <= 1 {
		return max(cfg.FirstRetryDelay, 0)
	}
	return max(cfg.Delay, 0)
}

// Retry runs fn until it succeeds, stop reports the error as final, or
// MaxAttempts is reached. Every failed attempt, the last one included,
// waits NextRetryDelay before the next attempt or before returning.
func Retry(ctx context.Context, cfg RetryConfig, sleep SleepFunc, fn func(attempt int) error, stop func(error) bool) error {
	if sleep == nil {
		sleep = Sleep
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if stop != nil && stop(err) {
			return err
		}
		if serr := sleep(ctx, NextRetryDelay(cfg, attempt)); serr != nil {
			return serr
		}
	}
	return err
}

// Sleep is the timer-backed SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
