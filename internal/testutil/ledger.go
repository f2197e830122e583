package testutil

import (
	"context"
	"errors"
	"sync"

	"dvault/internal/dv"
)

// Ledger method names accepted by FlakyLedger.
const (
	CreateVault = "CreateVault"
	VaultCount  = "VaultCount"
	GetVault    = "GetVault"
	DeleteVault = "DeleteVault"
	FileCount   = "FileCount"
	GetFile     = "GetFile"
	AppendFile  = "AppendFile"
	DeleteFile  = "DeleteFile"
)

// Unavailable returns an injected backend failure for op.
func Unavailable(op string) error {
	return dv.NewLedgerError(op, dv.ErrUnavailable, errors.New("injected failure"))
}

type flake struct {
	op     string
	vault  uint64
	index  uint64
	anyID  bool
	slotID bool
}

// FlakyLedger wraps a dv.Ledger and fails selected calls with injected errors.
// It also counts calls per method. Safe for concurrent use.
type FlakyLedger struct {
	dv.Ledger

	mu       sync.Mutex
	failures map[flake]error
	calls    map[string]int
}

// NewFlakyLedger wraps l. With no failures configured it behaves exactly like l.
func NewFlakyLedger(l dv.Ledger) *FlakyLedger {
	return &FlakyLedger{
		Ledger:   l,
		failures: make(map[flake]error),
		calls:    make(map[string]int),
	}
}

// FailOp makes every call of method op fail with err.
func (f *FlakyLedger) FailOp(op string, err error) {
	f.set(flake{op: op, anyID: true}, err)
}

// FailVault makes calls of method op on vault id fail with err.
func (f *FlakyLedger) FailVault(op string, id uint64, err error) {
	f.set(flake{op: op, vault: id}, err)
}

// FailSlot makes GetFile of one slot fail with err.
func (f *FlakyLedger) FailSlot(vaultID, index uint64, err error) {
	f.set(flake{op: GetFile, vault: vaultID, index: index, slotID: true}, err)
}

// Heal removes every configured failure.
func (f *FlakyLedger) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[flake]error)
}

// Calls returns how many times method op has been called.
func (f *FlakyLedger) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FlakyLedger) set(k flake, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[k] = err
}

// check records the call and returns the injected error for it, if any.
func (f *FlakyLedger) check(op string, vault, index uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if err, ok := f.failures[flake{op: op, anyID: true}]; ok {
		return err
	}
	if err, ok := f.failures[flake{op: op, vault: vault, index: index, slotID: true}]; ok {
		return err
	}
	if err, ok := f.failures[flake{op: op, vault: vault}]; ok {
		return err
	}
	return nil
}

func (f *FlakyLedger) CreateVault(ctx context.Context, caller dv.Identity, spec dv.VaultSpec) (uint64, error) {
	if err := f.check(CreateVault, 0, 0); err != nil {
		return 0, err
	}
	return f.Ledger.CreateVault(ctx, caller, spec)
}

func (f *FlakyLedger) VaultCount(ctx context.Context) (uint64, error) {
	if err := f.check(VaultCount, 0, 0); err != nil {
		return 0, err
	}
	return f.Ledger.VaultCount(ctx)
}

func (f *FlakyLedger) GetVault(ctx context.Context, id uint64) (*dv.VaultRecord, error) {
	if err := f.check(GetVault, id, 0); err != nil {
		return nil, err
	}
	return f.Ledger.GetVault(ctx, id)
}

func (f *FlakyLedger) DeleteVault(ctx context.Context, caller dv.Identity, id uint64) error {
	if err := f.check(DeleteVault, id, 0); err != nil {
		return err
	}
	return f.Ledger.DeleteVault(ctx, caller, id)
}

func (f *FlakyLedger) FileCount(ctx context.Context, vaultID uint64) (uint64, error) {
	if err := f.check(FileCount, vaultID, 0); err != nil {
		return 0, err
	}
	return f.Ledger.FileCount(ctx, vaultID)
}

func (f *FlakyLedger) GetFile(ctx context.Context, vaultID uint64, index uint64) (*dv.FileSlot, error) {
	if err := f.check(GetFile, vaultID, index); err != nil {
		return nil, err
	}
	return f.Ledger.GetFile(ctx, vaultID, index)
}

func (f *FlakyLedger) AppendFile(ctx context.Context, caller dv.Identity, vaultID uint64, entry dv.FileEntry) (uint64, error) {
	if err := f.check(AppendFile, vaultID, 0); err != nil {
		return 0, err
	}
	return f.Ledger.AppendFile(ctx, caller, vaultID, entry)
}

func (f *FlakyLedger) DeleteFile(ctx context.Context, caller dv.Identity, vaultID uint64, index uint64) error {
	if err := f.check(DeleteFile, vaultID, index); err != nil {
		return err
	}
	return f.Ledger.DeleteFile(ctx, caller, vaultID, index)
}
