package dv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// VaultIndex produces the caller's live, owned vault set.
//
// Tombstones observed by the index are remembered for the index's lifetime:
// once an id has read as tombstoned (or been deleted through MarkTombstoned)
// it is excluded without being queried again.
type VaultIndex struct {
	ledger   Ledger
	logger   Logger
	recorder Recorder
	timeout  time.Duration

	mu         sync.Mutex
	tombstones map[uint64]struct{}
}

// NewVaultIndex creates a VaultIndex. timeout bounds each individual ledger call.
func NewVaultIndex(ledger Ledger, logger Logger, recorder Recorder, timeout time.Duration) *VaultIndex {
	return &VaultIndex{
		ledger:     ledger,
		logger:     logger,
		recorder:   recorder,
		timeout:    timeout,
		tombstones: make(map[uint64]struct{}),
	}
}

// MarkTombstoned records that id has been deleted.
func (x *VaultIndex) MarkTombstoned(id uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tombstones[id] = struct{}{}
}

// IsTombstoned reports whether id is known to be deleted.
func (x *VaultIndex) IsTombstoned(id uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.tombstones[id]
	return ok
}

// errKnownTombstone short-circuits fetches for ids already known to be deleted.
var errKnownTombstone = NewLedgerError("getVault", ErrTombstoned, errors.New("previously observed"))

// Enumerate walks every vault id on the ledger and returns the live vaults
// owned by caller. Unreadable vaults are logged and left out; the returned
// Coverage says how many.
func (x *VaultIndex) Enumerate(ctx context.Context, caller Identity) (*VaultList, error) {
	start := time.Now()

	countCtx, cancel := withTimeout(ctx, x.timeout)
	n, err := x.ledger.VaultCount(countCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetching vault count: %w", err)
	}

	res, err := Walk(ctx, n, x.timeout, func(ctx context.Context, id uint64) (*VaultRecord, error) {
		if x.IsTombstoned(id) {
			return nil, errKnownTombstone
		}
		v, err := x.ledger.GetVault(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.ID != id {
			return nil, fmt.Errorf("ledger returned vault %d for id %d", v.ID, id)
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating vaults: %w", err)
	}

	list := &VaultList{Coverage: Coverage{Attempted: res.Attempted()}}
	for _, skip := range res.Skipped {
		if errors.Is(skip.Err, ErrTombstoned) {
			x.MarkTombstoned(skip.Index)
			list.Coverage.Excluded++
			continue
		}
		list.Coverage.Failed++
		x.recorder.ItemSkipped("vaults", KindName(skip.Err))
		x.logger.Warn("vault unreadable, excluded", "vault", skip.Index, "error", skip.Err)
	}

	for _, v := range res.Items {
		if v.Owner.Matches(caller) {
			list.Vaults = append(list.Vaults, *v)
		}
	}

	if list.Coverage.AllFailed() {
		x.logger.Error("every vault read failed", "count", list.Coverage.Failed)
	}
	x.recorder.WalkCompleted("vaults", list.Coverage, time.Since(start))
	x.logger.Debug("vaults enumerated", "total", n, "owned", len(list.Vaults), "excluded", list.Coverage.Excluded, "failed", list.Coverage.Failed)
	return list, nil
}
