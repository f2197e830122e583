package dv

import (
	"math"
	"strings"
	"time"
)

// Identity is an account address handed to us by the wallet/session provider.
// The ledger does not normalize case, so comparisons go through Matches.
type Identity string

// Matches reports whether two identities denote the same account,
// ignoring case. An empty identity matches nothing.
func (id Identity) Matches(other Identity) bool {
	if id == "" || other == "" {
		return false
	}
	return strings.EqualFold(string(id), string(other))
}

func (id Identity) String() string { return string(id) }

// AccessType controls who may append files to a vault.
type AccessType string

const (
	AccessPrivate AccessType = "private"
	AccessShared  AccessType = "shared"
)

// Valid reports whether a is one of the known access types.
func (a AccessType) Valid() bool {
	return a == AccessPrivate || a == AccessShared
}

// Defaults applied to a VaultSpec by WithDefaults.
const (
	DefaultStorageLimitGB  int64 = 5
	DefaultEncryptionLevel       = "AES-256"
	DefaultSizeHint        int64 = 1024
)

// VaultSpec is the input to CreateVault. Everything except Name is
// declarative metadata: the sync layer stores it but does not act on it.
type VaultSpec struct {
	Name            string
	Description     string
	SizeHint        int64
	EncryptionLevel string
	FileCountSeed   int64
	StorageLimitGB  int64
	AccessType      AccessType
	LastAccessed    time.Time
}

// WithDefaults returns a copy of s with unset fields filled in.
func (s VaultSpec) WithDefaults(now time.Time) VaultSpec {
	if s.SizeHint == 0 {
		s.SizeHint = DefaultSizeHint
	}
	if s.EncryptionLevel == "" {
		s.EncryptionLevel = DefaultEncryptionLevel
	}
	if s.StorageLimitGB == 0 {
		s.StorageLimitGB = DefaultStorageLimitGB
	}
	if s.AccessType == "" {
		s.AccessType = AccessPrivate
	}
	if s.LastAccessed.IsZero() {
		s.LastAccessed = now
	}
	return s
}

// VaultRecord is a live vault as read from the ledger.
// Tombstoned vaults never produce a VaultRecord; reading one fails with ErrTombstoned.
type VaultRecord struct {
	ID    uint64
	Owner Identity
	VaultSpec
}

// StorageLimitBytes returns the advisory storage limit in bytes, 0 meaning unlimited.
// Limits too large for int64 saturate at math.MaxInt64.
func (v *VaultRecord) StorageLimitBytes() int64 {
	if v.StorageLimitGB <= 0 {
		return 0
	}
	if v.StorageLimitGB > math.MaxInt64>>30 {
		return math.MaxInt64
	}
	return v.StorageLimitGB << 30
}

// CanAppend reports whether caller may append files to the vault.
func (v *VaultRecord) CanAppend(caller Identity) bool {
	return v.Owner.Matches(caller) || (v.AccessType == AccessShared && caller != "")
}

// FileEntry is the input to AppendFile.
type FileEntry struct {
	CID       string
	Name      string
	SizeBytes int64
	Extension string
}

// FileSlot is one positional record in a vault's append-only file array.
// Index is only meaningful while the slot lives; it is not a file identity.
type FileSlot struct {
	VaultID    uint64
	Index      uint64
	CID        string
	Name       string
	SizeBytes  int64
	Extension  string
	UploadedAt time.Time
	Owner      Identity
}

// Tombstoned is the canonical deadness predicate: an empty content address.
func (s *FileSlot) Tombstoned() bool {
	return s.CID == ""
}

// ActiveFile is a live slot annotated for presentation.
type ActiveFile struct {
	FileSlot
	Type      FileType
	SizeLabel string
}

// AggregateStats summarizes a vault's active files. It is always recomputed
// from the active set, never maintained incrementally.
type AggregateStats struct {
	ActiveCount int
	UsedBytes   int64
}

// ComputeStats derives AggregateStats from an active file set.
func ComputeStats(files []ActiveFile) AggregateStats {
	stats := AggregateStats{ActiveCount: len(files)}
	for i := range files {
		stats.UsedBytes += files[i].SizeBytes
	}
	return stats
}

// Coverage describes how much of a walk succeeded.
// Excluded items were dropped on purpose (tombstones); Failed items errored.
type Coverage struct {
	Attempted int
	Excluded  int
	Failed    int
}

// Partial reports whether at least one item failed and was left out.
func (c Coverage) Partial() bool {
	return c.Failed > 0
}

// AllFailed reports whether every item that should have been readable failed.
// An empty result with AllFailed set is distinct from a legitimately empty one.
func (c Coverage) AllFailed() bool {
	return c.Failed > 0 && c.Failed == c.Attempted-c.Excluded
}

// FileView is the reconciled, caller-facing view of one vault.
// Files are in ascending slot order; raw tombstoned slots never appear.
type FileView struct {
	VaultID      uint64
	SlotCount    uint64
	Files        []ActiveFile
	Stats        AggregateStats
	Coverage     Coverage
	ReconciledAt time.Time
}

// VaultList is the caller's live, owned vaults in ascending id order.
type VaultList struct {
	Vaults   []VaultRecord
	Coverage Coverage
}
