package dv

import (
	"context"
	"fmt"
	"math"
)

// VaultSummary is one row of the dashboard. Err is set when the vault's
// files could not be reconciled; Stats is then zero.
type VaultSummary struct {
	Vault    VaultRecord
	Stats    AggregateStats
	Coverage Coverage
	Err      error
}

// Dashboard aggregates the caller's vaults.
type Dashboard struct {
	Vaults        []VaultSummary
	TotalFiles    int
	TotalUsed     int64
	TotalLimit    int64
	VaultCoverage Coverage
}

// Failed returns the number of vaults whose files could not be reconciled.
func (d *Dashboard) Failed() int {
	n := 0
	for _, s := range d.Vaults {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Dashboard enumerates the caller's vaults and reconciles each of them.
// A vault that fails to reconcile is still listed, with Err set.
func (e *Engine) Dashboard(ctx context.Context, caller Identity) (*Dashboard, error) {
	list, err := e.MyVaults(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("building dashboard: %w", err)
	}

	d := &Dashboard{VaultCoverage: list.Coverage}
	for _, v := range list.Vaults {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("building dashboard: %w", err)
		}
		summary := VaultSummary{Vault: v}
		view, err := e.Files(ctx, v.ID)
		if err != nil {
			e.logger.Warn("vault files unreadable", "vault", v.ID, "error", err)
			summary.Err = err
		} else {
			summary.Stats = view.Stats
			summary.Coverage = view.Coverage
			d.TotalFiles += view.Stats.ActiveCount
			d.TotalUsed += view.Stats.UsedBytes
		}
		d.TotalLimit = addSaturating(d.TotalLimit, v.StorageLimitBytes())
		d.Vaults = append(d.Vaults, summary)
	}
	return d, nil
}

// addSaturating adds two non-negative byte counts, capping at math.MaxInt64.
func addSaturating(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}
