// Package retryutil schedules one-shot background retries for
// best-effort startup calls.
package retryutil

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultDelay   = 5 * time.Second
	defaultTimeout = 15 * time.Second
)

// Async runs fn once in the background after delay. Failures are
// logged, never propagated; callers use this for operations the bot
// can live without.
func Async(logger *slog.Logger, op string, delay, timeout time.Duration, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if delay <= 0 {
		delay = defaultDelay
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger != nil {
		logger.Info("retry scheduled", "op", op, "delay", delay.String())
	}
	go func() {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			if logger != nil {
				logger.Warn("retry failed", "op", op, "error", err)
			}
			return
		}
		if logger != nil {
			logger.Info("retry succeeded", "op", op)
		}
	}()
}
