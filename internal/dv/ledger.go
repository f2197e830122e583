package dv

import "context"

// Ledger is the typed binding over the external append-only ledger.
// Implementations hold no caller-visible state, perform no retries, and
// return failures carrying one of ErrNotFound, ErrTombstoned,
// ErrUnauthorized or ErrUnavailable (usually as a *LedgerError).
type Ledger interface {
	// CreateVault records a new vault owned by caller and returns its id.
	// Ids are assigned densely from zero and never reused.
	CreateVault(ctx context.Context, caller Identity, spec VaultSpec) (uint64, error)

	// VaultCount returns the number of vault ids ever assigned, tombstoned ones included.
	VaultCount(ctx context.Context) (uint64, error)

	// GetVault returns a live vault, or fails with ErrTombstoned or ErrNotFound.
	GetVault(ctx context.Context, id uint64) (*VaultRecord, error)

	// DeleteVault tombstones a vault. caller must be the owner.
	DeleteVault(ctx context.Context, caller Identity, id uint64) error

	// FileCount returns the number of slots ever appended to a vault.
	FileCount(ctx context.Context, vaultID uint64) (uint64, error)

	// GetFile returns the slot at index, tombstoned or not.
	GetFile(ctx context.Context, vaultID uint64, index uint64) (*FileSlot, error)

	// AppendFile appends a slot and returns its index, which equals the
	// file count before the call.
	AppendFile(ctx context.Context, caller Identity, vaultID uint64, entry FileEntry) (uint64, error)

	// DeleteFile blanks the slot's content address in place. caller must be the owner.
	DeleteFile(ctx context.Context, caller Identity, vaultID uint64, index uint64) error

	// Close releases backend resources.
	Close() error
}
