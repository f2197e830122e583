package retry

import (
	"context"
	"fmt"
	"time"

	"dvault/internal/dv"
)

// ExponentialBackoffStrategy retries recoverable failures, doubling the
// delay after each attempt up to maxDelay.
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       dv.Logger
}

func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration, logger dv.Logger) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		logger:       logger,
	}
}

// Execute runs the operation with exponential backoff retry logic.
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	var lastErr error
	delay := s.initialDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				s.logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !Recoverable(err) {
			return err
		}
		if attempt >= s.maxRetries {
			break
		}

		s.logger.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_attempts", s.maxRetries+1,
			"retry_in", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}
