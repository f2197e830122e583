package dv

import (
	"context"
	"fmt"
	"time"
)

// Reconciler turns a vault's raw ledger slots into its FileView.
//
// Every call is a full O(fileCount) walk. The reconciler keeps nothing between
// calls; callers that browse repeatedly should cache the result and drop it
// after any write to the same vault (Engine does this).
type Reconciler struct {
	ledger   Ledger
	logger   Logger
	recorder Recorder
	clock    Clock
	timeout  time.Duration
}

// NewReconciler creates a Reconciler. timeout bounds each individual ledger call.
func NewReconciler(ledger Ledger, logger Logger, recorder Recorder, clock Clock, timeout time.Duration) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		logger:   logger,
		recorder: recorder,
		clock:    clock,
		timeout:  timeout,
	}
}

// Reconcile walks all slots of vaultID and returns the active files in slot
// order with freshly computed stats. Only a failure to read the file count
// fails the call; individual slot failures are reported through Coverage.
func (r *Reconciler) Reconcile(ctx context.Context, vaultID uint64) (*FileView, error) {
	start := time.Now()

	countCtx, cancel := withTimeout(ctx, r.timeout)
	n, err := r.ledger.FileCount(countCtx, vaultID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetching file count for vault %d: %w", vaultID, err)
	}

	res, err := Walk(ctx, n, r.timeout, func(ctx context.Context, i uint64) (*FileSlot, error) {
		slot, err := r.ledger.GetFile(ctx, vaultID, i)
		if err != nil {
			return nil, err
		}
		if slot.Index != i || slot.VaultID != vaultID {
			return nil, fmt.Errorf("ledger returned slot %d/%d for %d/%d", slot.VaultID, slot.Index, vaultID, i)
		}
		return slot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling vault %d: %w", vaultID, err)
	}

	view := &FileView{
		VaultID:      vaultID,
		SlotCount:    n,
		Coverage:     Coverage{Attempted: res.Attempted()},
		ReconciledAt: r.clock.Now(),
	}

	for _, skip := range res.Skipped {
		view.Coverage.Failed++
		r.recorder.ItemSkipped("files", KindName(skip.Err))
		r.logger.Warn("file slot unreadable, excluded", "vault", vaultID, "slot", skip.Index, "error", skip.Err)
	}

	for _, slot := range res.Items {
		if slot.Tombstoned() {
			view.Coverage.Excluded++
			if slot.SizeBytes != 0 {
				r.logger.Warn("tombstoned slot still reports a size", "vault", vaultID, "slot", slot.Index, "size", slot.SizeBytes)
			}
			continue
		}
		view.Files = append(view.Files, ActiveFile{
			FileSlot:  *slot,
			Type:      ClassifyFile(slot.Name),
			SizeLabel: SizeLabel(slot.SizeBytes),
		})
	}
	view.Stats = ComputeStats(view.Files)

	if view.Coverage.AllFailed() {
		r.logger.Error("every file slot read failed", "vault", vaultID, "count", view.Coverage.Failed)
	}
	r.recorder.WalkCompleted("files", view.Coverage, time.Since(start))
	r.logger.Debug("vault reconciled", "vault", vaultID, "slots", n, "active", view.Stats.ActiveCount, "used_bytes", view.Stats.UsedBytes)
	return view, nil
}
