package dv

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Every ledger and content-store failure that reaches the
// sync layer carries exactly one of these, checkable with errors.Is.
var (
	// ErrNotFound means a vault id or slot index does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrTombstoned means the vault existed but has been deleted.
	ErrTombstoned = errors.New("tombstoned")

	// ErrUnauthorized means a write was attempted by someone other than the owner.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable means the backend could not be reached or timed out.
	ErrUnavailable = errors.New("unavailable")

	// ErrContentStore means the content store rejected or failed an operation.
	ErrContentStore = errors.New("content store error")

	// ErrStorageLimitExceeded is returned by UploadFile when storage limits are enforced.
	ErrStorageLimitExceeded = errors.New("storage limit exceeded")

	// ErrInvalidInput is returned for malformed caller input (empty names, empty cids).
	ErrInvalidInput = errors.New("invalid input")
)

// kinds lists the failure kinds in the order KindOf checks them.
var kinds = []error{
	ErrTombstoned,
	ErrNotFound,
	ErrUnauthorized,
	ErrUnavailable,
	ErrContentStore,
	ErrStorageLimitExceeded,
	ErrInvalidInput,
}

// LedgerError is the typed failure returned by Ledger implementations.
// It carries the failure kind and the backend's native error.
type LedgerError struct {
	Op   string
	Kind error
	Err  error
}

// NewLedgerError builds a LedgerError. err may be nil.
func NewLedgerError(op string, kind error, err error) *LedgerError {
	return &LedgerError{Op: op, Kind: kind, Err: err}
}

func (e *LedgerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("ledger %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the failure kind of err, or nil when err carries none.
// Context deadline and cancellation errors are reported as ErrUnavailable.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}
	return nil
}

// KindName returns a short label for err's kind, used in logs and metrics.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrTombstoned:
		return "tombstoned"
	case ErrNotFound:
		return "not_found"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrUnavailable:
		return "unavailable"
	case ErrContentStore:
		return "content_store"
	case ErrStorageLimitExceeded:
		return "storage_limit"
	case ErrInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// contentStoreError wraps a content store failure so it always carries ErrContentStore.
func contentStoreError(op string, err error) error {
	if errors.Is(err, ErrContentStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrContentStore, err)
}
