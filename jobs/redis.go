package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/refinery-erp/refinery-erp/internal/platform/cache"
)

// ConnectWithRetry probes the queue broker until it answers or the attempt
// budget runs out. The worker starts degraded rather than crash-looping when
// the broker is slow to come up.
func ConnectWithRetry(ctx context.Context, addr string, attempts int, backoff time.Duration, logger *slog.Logger) error {
	if attempts <= 0 {
		attempts = 10
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		client, err := cache.New(ctx, addr)
		if err == nil {
			_ = client.Close()
			logger.Info("broker connected", slog.String("addr", addr), slog.Int("attempt", i))
			return nil
		}
		lastErr = err
		logger.Warn("broker unreachable, retrying",
			slog.String("addr", addr),
			slog.Int("attempt", i),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("jobs: broker %s unreachable after %d attempts: %w", addr, attempts, lastErr)
}
