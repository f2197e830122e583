package dv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the number of reconciled vault views kept by an Engine.
const DefaultCacheSize = 64

// EngineOptions tunes an Engine.
type EngineOptions struct {
	// CallTimeout bounds every individual ledger and content store call. Zero disables it.
	CallTimeout time.Duration

	// EnforceStorageLimit makes UploadFile reject uploads that would push a
	// vault past its StorageLimitGB. Off by default: the limit is advisory.
	EnforceStorageLimit bool

	// CacheSize bounds the view cache. Zero means DefaultCacheSize.
	CacheSize int
}

// Engine is the vault synchronization engine. It orchestrates the write
// paths (create, upload, delete) and serves the read model, re-running
// reconciliation after every write it performs.
type Engine struct {
	ledger     Ledger
	store      ContentStore
	index      *VaultIndex
	reconciler *Reconciler
	logger     Logger
	recorder   Recorder
	clock      Clock
	opts       EngineOptions
	views      *lru.Cache // vault id -> *FileView
}

// NewEngine creates an Engine with the provided dependencies.
func NewEngine(ledger Ledger, store ContentStore, logger Logger, recorder Recorder, clock Clock, opts EngineOptions) (*Engine, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	views, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating view cache: %w", err)
	}
	return &Engine{
		ledger:     ledger,
		store:      store,
		index:      NewVaultIndex(ledger, logger, recorder, opts.CallTimeout),
		reconciler: NewReconciler(ledger, logger, recorder, clock, opts.CallTimeout),
		logger:     logger,
		recorder:   recorder,
		clock:      clock,
		opts:       opts,
		views:      views,
	}, nil
}

// UploadResult describes a completed upload.
// View is nil when the follow-up reconciliation failed; the upload itself stands.
type UploadResult struct {
	VaultID   uint64
	SlotIndex uint64
	CID       string
	Size      int64
	View      *FileView
}

// Download is an open stream for an active file.
type Download struct {
	File ActiveFile
	Body io.ReadCloser
}

// MyVaults returns the live vaults owned by caller.
func (e *Engine) MyVaults(ctx context.Context, caller Identity) (*VaultList, error) {
	return e.index.Enumerate(ctx, caller)
}

// Vault returns a single live vault. Private vaults are only returned to their owner.
func (e *Engine) Vault(ctx context.Context, caller Identity, id uint64) (*VaultRecord, error) {
	if e.index.IsTombstoned(id) {
		return nil, NewLedgerError("getVault", ErrTombstoned, fmt.Errorf("vault %d", id))
	}
	v, err := e.getVault(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Owner.Matches(caller) && v.AccessType != AccessShared {
		return nil, fmt.Errorf("vault %d is private to %s: %w", id, v.Owner, ErrUnauthorized)
	}
	return v, nil
}

// Files returns the cached view of a vault, reconciling on a cache miss.
func (e *Engine) Files(ctx context.Context, vaultID uint64) (*FileView, error) {
	if cached, ok := e.views.Get(vaultID); ok {
		return cached.(*FileView), nil
	}
	return e.Refresh(ctx, vaultID)
}

// Refresh reconciles a vault from scratch and replaces its cached view.
func (e *Engine) Refresh(ctx context.Context, vaultID uint64) (*FileView, error) {
	if e.index.IsTombstoned(vaultID) {
		return nil, NewLedgerError("getFileCount", ErrTombstoned, fmt.Errorf("vault %d", vaultID))
	}
	view, err := e.reconciler.Reconcile(ctx, vaultID)
	if err != nil {
		if errors.Is(err, ErrTombstoned) {
			e.index.MarkTombstoned(vaultID)
		}
		e.views.Remove(vaultID)
		return nil, err
	}
	e.views.Add(vaultID, view)
	return view, nil
}

// Invalidate drops the cached view of a vault.
func (e *Engine) Invalidate(vaultID uint64) {
	e.views.Remove(vaultID)
}

// CreateVault records a new vault owned by caller and returns its id.
func (e *Engine) CreateVault(ctx context.Context, caller Identity, spec VaultSpec) (uint64, error) {
	if caller == "" {
		return 0, fmt.Errorf("creating vault: caller identity required: %w", ErrInvalidInput)
	}
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return 0, fmt.Errorf("creating vault: name required: %w", ErrInvalidInput)
	}
	spec = spec.WithDefaults(e.clock.Now())
	if !spec.AccessType.Valid() {
		return 0, fmt.Errorf("creating vault: unknown access type %q: %w", spec.AccessType, ErrInvalidInput)
	}

	callCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	id, err := e.ledger.CreateVault(callCtx, caller, spec)
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}

	e.logger.Info("vault created", "vault", id, "name", spec.Name, "owner", caller)
	return id, nil
}

// UploadFile stores content and records it as a new slot in the vault.
//
// Content goes to the content store first; the ledger is only touched once a
// content address exists, so a store failure never leaves ledger metadata
// behind. If the ledger append fails afterwards, the stored blob is left in
// place unreferenced and the ledger error is returned.
func (e *Engine) UploadFile(ctx context.Context, caller Identity, vaultID uint64, r io.Reader, size int64, filename string) (*UploadResult, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("uploading file: filename required: %w", ErrInvalidInput)
	}
	if size < 0 {
		return nil, fmt.Errorf("uploading file: negative size: %w", ErrInvalidInput)
	}

	if e.opts.EnforceStorageLimit {
		if err := e.checkStorageLimit(ctx, vaultID, size); err != nil {
			return nil, err
		}
	}

	putCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	cid, err := e.store.Put(putCtx, r, size, filename)
	cancel()
	if err != nil {
		return nil, contentStoreError("uploading file", err)
	}
	if cid == "" {
		return nil, contentStoreError("uploading file", errors.New("store returned an empty content address"))
	}
	e.logger.Debug("content stored", "cid", cid, "size", size)

	entry := FileEntry{
		CID:       cid,
		Name:      filename,
		SizeBytes: size,
		Extension: Extension(filename),
	}
	appendCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	slot, err := e.ledger.AppendFile(appendCtx, caller, vaultID, entry)
	cancel()
	if err != nil {
		e.recorder.OrphanedContent()
		e.logger.Warn("ledger append failed, content left unreferenced", "vault", vaultID, "cid", cid, "error", err)
		return nil, fmt.Errorf("recording file in ledger: %w", err)
	}

	e.recorder.Uploaded(size)
	e.logger.Info("file uploaded", "vault", vaultID, "slot", slot, "name", filename, "cid", cid)

	result := &UploadResult{VaultID: vaultID, SlotIndex: slot, CID: cid, Size: size}
	result.View = e.refreshAfterWrite(ctx, vaultID)
	return result, nil
}

// DeleteFile tombstones a slot on the ledger and returns the refreshed view.
// The content itself stays in the content store and may remain resolvable.
func (e *Engine) DeleteFile(ctx context.Context, caller Identity, vaultID uint64, slot uint64) (*FileView, error) {
	callCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	err := e.ledger.DeleteFile(callCtx, caller, vaultID, slot)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("deleting file: %w", err)
	}

	e.logger.Info("file tombstoned", "vault", vaultID, "slot", slot)
	return e.refreshAfterWrite(ctx, vaultID), nil
}

// DeleteVault tombstones a vault. Its slots are not blanked individually;
// they become unreachable because the vault is no longer enumerated.
func (e *Engine) DeleteVault(ctx context.Context, caller Identity, vaultID uint64) error {
	callCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	err := e.ledger.DeleteVault(callCtx, caller, vaultID)
	cancel()
	if errors.Is(err, ErrTombstoned) {
		e.index.MarkTombstoned(vaultID)
		e.views.Remove(vaultID)
	}
	if err != nil {
		return fmt.Errorf("deleting vault: %w", err)
	}

	e.index.MarkTombstoned(vaultID)
	e.views.Remove(vaultID)
	e.logger.Info("vault tombstoned", "vault", vaultID)
	return nil
}

// DownloadFile opens the content of an active slot.
// A tombstoned slot fails with ErrNotFound before the content store is consulted.
func (e *Engine) DownloadFile(ctx context.Context, vaultID uint64, slot uint64) (*Download, error) {
	s, err := e.activeSlot(ctx, vaultID, slot)
	if err != nil {
		return nil, err
	}

	// The stream outlives this call, so only the parent context bounds it.
	body, err := e.store.Resolve(ctx, s.CID)
	if err != nil {
		return nil, contentStoreError("resolving content", err)
	}

	return &Download{
		File: ActiveFile{FileSlot: *s, Type: ClassifyFile(s.Name), SizeLabel: SizeLabel(s.SizeBytes)},
		Body: body,
	}, nil
}

// FileURL returns the public gateway URL of an active slot's content.
func (e *Engine) FileURL(ctx context.Context, vaultID uint64, slot uint64) (string, error) {
	s, err := e.activeSlot(ctx, vaultID, slot)
	if err != nil {
		return "", err
	}
	return e.store.URL(s.CID), nil
}

func (e *Engine) activeSlot(ctx context.Context, vaultID uint64, slot uint64) (*FileSlot, error) {
	callCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	s, err := e.ledger.GetFile(callCtx, vaultID, slot)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("reading slot %d of vault %d: %w", slot, vaultID, err)
	}
	if s.Tombstoned() {
		return nil, fmt.Errorf("slot %d of vault %d has been deleted: %w", slot, vaultID, ErrNotFound)
	}
	return s, nil
}

func (e *Engine) getVault(ctx context.Context, id uint64) (*VaultRecord, error) {
	callCtx, cancel := withTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	v, err := e.ledger.GetVault(callCtx, id)
	if err != nil {
		if errors.Is(err, ErrTombstoned) {
			e.index.MarkTombstoned(id)
		}
		return nil, fmt.Errorf("reading vault %d: %w", id, err)
	}
	return v, nil
}

// checkStorageLimit rejects an upload of size bytes that would exceed the
// vault's limit. Usage comes from a fresh reconciliation, not the cache.
func (e *Engine) checkStorageLimit(ctx context.Context, vaultID uint64, size int64) error {
	v, err := e.getVault(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("checking storage limit: %w", err)
	}
	limit := v.StorageLimitBytes()
	if limit == 0 {
		return nil
	}
	view, err := e.Refresh(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("checking storage limit: %w", err)
	}
	if size > limit-view.Stats.UsedBytes {
		return fmt.Errorf("vault %d uses %d of %d bytes, upload of %d bytes refused: %w",
			vaultID, view.Stats.UsedBytes, limit, size, ErrStorageLimitExceeded)
	}
	return nil
}

// refreshAfterWrite drops the cached view and reconciles again.
// A failed reconciliation is logged, not returned: the write already happened.
func (e *Engine) refreshAfterWrite(ctx context.Context, vaultID uint64) *FileView {
	e.views.Remove(vaultID)
	view, err := e.Refresh(ctx, vaultID)
	if err != nil {
		e.logger.Warn("reconciliation after write failed", "vault", vaultID, "error", err)
		return nil
	}
	return view
}
