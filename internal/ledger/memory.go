package ledger

import (
	"context"
	"fmt"
	"sync"

	"dvault/internal/dv"
)

// MemoryLedger is an in-process implementation of dv.Ledger.
// It keeps every vault and slot in memory and is safe for concurrent use.
type MemoryLedger struct {
	clock dv.Clock

	mu     sync.RWMutex
	vaults []*memoryVault
}

type memoryVault struct {
	record  dv.VaultRecord
	deleted bool
	files   []dv.FileSlot
}

var _ dv.Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-memory ledger. clock stamps uploads.
func NewMemoryLedger(clock dv.Clock) *MemoryLedger {
	return &MemoryLedger{clock: clock}
}

func (m *MemoryLedger) CreateVault(ctx context.Context, caller dv.Identity, spec dv.VaultSpec) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, dv.NewLedgerError(OpCreateVault, dv.ErrUnavailable, err)
	}
	if caller == "" {
		return 0, dv.NewLedgerError(OpCreateVault, dv.ErrInvalidInput, errEmptyCaller)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uint64(len(m.vaults))
	m.vaults = append(m.vaults, &memoryVault{
		record: dv.VaultRecord{ID: id, Owner: caller, VaultSpec: spec},
	})
	return id, nil
}

func (m *MemoryLedger) VaultCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, dv.NewLedgerError(OpVaultCount, dv.ErrUnavailable, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.vaults)), nil
}

func (m *MemoryLedger) GetVault(ctx context.Context, id uint64) (*dv.VaultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.liveVault(ctx, OpGetVault, id)
	if err != nil {
		return nil, err
	}
	record := v.record
	return &record, nil
}

func (m *MemoryLedger) DeleteVault(ctx context.Context, caller dv.Identity, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.liveVault(ctx, OpDeleteVault, id)
	if err != nil {
		return err
	}
	if !v.record.Owner.Matches(caller) {
		return dv.NewLedgerError(OpDeleteVault, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", id, v.record.Owner))
	}
	v.deleted = true
	return nil
}

func (m *MemoryLedger) FileCount(ctx context.Context, vaultID uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.liveVault(ctx, OpFileCount, vaultID)
	if err != nil {
		return 0, err
	}
	return uint64(len(v.files)), nil
}

func (m *MemoryLedger) GetFile(ctx context.Context, vaultID uint64, index uint64) (*dv.FileSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.liveVault(ctx, OpGetFile, vaultID)
	if err != nil {
		return nil, err
	}
	if index >= uint64(len(v.files)) {
		return nil, dv.NewLedgerError(OpGetFile, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
	}
	slot := v.files[index]
	return &slot, nil
}

func (m *MemoryLedger) AppendFile(ctx context.Context, caller dv.Identity, vaultID uint64, entry dv.FileEntry) (uint64, error) {
	if entry.CID == "" {
		return 0, dv.NewLedgerError(OpAppendFile, dv.ErrInvalidInput, errEmptyCID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.liveVault(ctx, OpAppendFile, vaultID)
	if err != nil {
		return 0, err
	}
	if !v.record.CanAppend(caller) {
		return 0, dv.NewLedgerError(OpAppendFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is private to %s", vaultID, v.record.Owner))
	}

	index := uint64(len(v.files))
	v.files = append(v.files, dv.FileSlot{
		VaultID:    vaultID,
		Index:      index,
		CID:        entry.CID,
		Name:       entry.Name,
		SizeBytes:  entry.SizeBytes,
		Extension:  entry.Extension,
		UploadedAt: m.clock.Now(),
		Owner:      caller,
	})
	return index, nil
}

func (m *MemoryLedger) DeleteFile(ctx context.Context, caller dv.Identity, vaultID uint64, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.liveVault(ctx, OpDeleteFile, vaultID)
	if err != nil {
		return err
	}
	if !v.record.Owner.Matches(caller) {
		return dv.NewLedgerError(OpDeleteFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", vaultID, v.record.Owner))
	}
	if index >= uint64(len(v.files)) {
		return dv.NewLedgerError(OpDeleteFile, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
	}
	v.files[index] = blankSlot(vaultID, index)
	return nil
}

func (m *MemoryLedger) Close() error {
	return nil
}

// liveVault returns the vault with id, failing NotFound or Tombstoned.
// Callers must hold m.mu.
func (m *MemoryLedger) liveVault(ctx context.Context, op string, id uint64) (*memoryVault, error) {
	if err := ctx.Err(); err != nil {
		return nil, dv.NewLedgerError(op, dv.ErrUnavailable, err)
	}
	if id >= uint64(len(m.vaults)) {
		return nil, dv.NewLedgerError(op, dv.ErrNotFound, fmt.Errorf("vault %d", id))
	}
	v := m.vaults[id]
	if v.deleted {
		return nil, dv.NewLedgerError(op, dv.ErrTombstoned, fmt.Errorf("vault %d", id))
	}
	return v, nil
}
