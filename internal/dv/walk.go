package dv

import (
	"context"
	"time"
)

// SkippedItem records one index a walk could not fetch.
type SkippedItem struct {
	Index uint64
	Err   error
}

// WalkResult holds the outcome of Walk. Items are in ascending index order.
type WalkResult[T any] struct {
	Items   []T
	Skipped []SkippedItem
}

// Attempted returns the number of indices the walk tried.
func (r WalkResult[T]) Attempted() int {
	return len(r.Items) + len(r.Skipped)
}

// Walk fetches indices [0, n) in ascending order. Each fetch runs under its own
// timeout (none when timeout is zero) and a failing fetch is recorded in
// Skipped without affecting the rest of the walk.
//
// Walk only stops early when ctx itself is done; it then returns what it has
// gathered together with the context error.
func Walk[T any](ctx context.Context, n uint64, timeout time.Duration, fetch func(ctx context.Context, i uint64) (T, error)) (WalkResult[T], error) {
	var res WalkResult[T]
	for i := uint64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item, err := fetchOne(ctx, i, timeout, fetch)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedItem{Index: i, Err: err})
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

func fetchOne[T any](ctx context.Context, i uint64, timeout time.Duration, fetch func(ctx context.Context, i uint64) (T, error)) (T, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return fetch(ctx, i)
}

// withTimeout derives a per-call context, or returns ctx unchanged when timeout is zero.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
