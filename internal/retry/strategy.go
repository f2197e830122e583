// Package retry runs idempotent ledger and content store calls again when
// they fail because the backend was unavailable.
package retry

import (
	"context"
	"errors"
	"time"

	"dvault/internal/dv"
)

// Strategy defines the interface for retry strategies.
type Strategy interface {
	// Execute runs the operation with the configured retry logic.
	Execute(ctx context.Context, operation Operation) error

	// Name returns the name of the strategy for logging.
	Name() string
}

// Operation is a function that can be retried.
type Operation func() error

// Config holds retry configuration.
type Config struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// NewStrategy creates a retry strategy based on configuration.
func NewStrategy(cfg Config, logger dv.Logger) Strategy {
	if !cfg.Enabled || cfg.MaxRetries <= 0 {
		logger.Debug("retry disabled")
		return NewNoRetryStrategy()
	}

	logger.Debug("retry enabled",
		"max_retries", cfg.MaxRetries,
		"initial_delay", cfg.InitialDelay,
		"max_delay", cfg.MaxDelay,
	)
	return NewExponentialBackoffStrategy(cfg.MaxRetries, cfg.InitialDelay, cfg.MaxDelay, logger)
}

// Recoverable reports whether err is worth retrying: only failures of kind
// dv.ErrUnavailable are. Cancellation of the caller's own context is not.
func Recoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(dv.KindOf(err), dv.ErrUnavailable)
}
