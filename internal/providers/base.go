package providers

import (
	"context"
	"log/slog"
	"time"
)

// maxRetryDelay caps the doubling delay between stream creation attempts.
const maxRetryDelay = 30 * time.Second

// BaseProvider holds the retry settings shared by model providers.
type BaseProvider struct {
	name       string
	maxRetries int           // attempts, including the first
	retryDelay time.Duration // wait before the second attempt
}

// NewBaseProvider creates a base provider. Non-positive values select three
// attempts and a one second initial delay.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Retry runs op until it succeeds, fails with an error isRetryable rejects,
// runs out of attempts, or ctx ends. The wait doubles after every attempt up
// to maxRetryDelay. A nil isRetryable uses IsRetryable, which follows the
// ErrorReason of a ProviderError. The last error from op is returned as is.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	delay := b.retryDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil || attempt >= b.maxRetries || !isRetryable(err) {
			return err
		}
		slog.DebugContext(ctx, "retrying model invocation",
			"provider", b.name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = nextDelay(delay)
	}
}

func nextDelay(d time.Duration) time.Duration {
	return min(2*d, maxRetryDelay)
}
