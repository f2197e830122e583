package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"dvault/internal/dv"
)

// Event kinds recorded in the log.
const (
	eventCreateVault = "create_vault"
	eventDeleteVault = "delete_vault"
	eventAppendFile  = "append_file"
	eventDeleteFile  = "delete_file"
)

// event is one mutation in the log. Records are written with Core
// Deterministic Encoding, so identical mutations produce identical bytes.
type event struct {
	Kind    string       `cbor:"1,keyasint"`
	At      time.Time    `cbor:"2,keyasint"`
	Caller  string       `cbor:"3,keyasint"`
	VaultID uint64       `cbor:"4,keyasint,omitempty"`
	Index   uint64       `cbor:"5,keyasint,omitempty"`
	Vault   *vaultRecord `cbor:"6,keyasint,omitempty"`
	File    *fileRecord  `cbor:"7,keyasint,omitempty"`
}

type vaultRecord struct {
	Name            string    `cbor:"1,keyasint"`
	Description     string    `cbor:"2,keyasint,omitempty"`
	SizeHint        int64     `cbor:"3,keyasint,omitempty"`
	EncryptionLevel string    `cbor:"4,keyasint,omitempty"`
	FileCountSeed   int64     `cbor:"5,keyasint,omitempty"`
	StorageLimitGB  int64     `cbor:"6,keyasint,omitempty"`
	AccessType      string    `cbor:"7,keyasint,omitempty"`
	LastAccessed    time.Time `cbor:"8,keyasint"`
}

type fileRecord struct {
	CID       string `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint"`
	SizeBytes int64  `cbor:"3,keyasint"`
	Extension string `cbor:"4,keyasint,omitempty"`
}

var (
	logEncMode cbor.EncMode
	logDecMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	logEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
	logDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

// LogFileLedger is a dv.Ledger persisted as an append-only CBOR event log.
// The log is replayed into a MemoryLedger on open; every accepted mutation
// is appended and synced before it becomes visible.
type LogFileLedger struct {
	clock dv.Clock

	mu    sync.Mutex // serializes mutations and guards f
	f     logFile
	at    eventClock
	state *MemoryLedger
}

var _ dv.Ledger = (*LogFileLedger)(nil)

// logFile is the part of *os.File the ledger uses.
type logFile interface {
	io.ReadWriteSeeker
	Truncate(size int64) error
	Sync() error
	Close() error
}

// eventClock hands the timestamp of the event being applied to the memory ledger.
type eventClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *eventClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *eventClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NewLogFileLedger opens the log at path, creating it if needed, and replays it.
// A record torn by a crash at the end of the log is truncated away.
func NewLogFileLedger(path string, clock dv.Clock) (*LogFileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger log: %w", err)
	}

	l := &LogFileLedger{clock: clock, f: f}
	l.state = NewMemoryLedger(&l.at)
	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *LogFileLedger) replay() error {
	dec := logDecMode.NewDecoder(l.f)
	good := 0
	for n := 0; ; n++ {
		var ev event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if err := l.f.Truncate(int64(good)); err != nil {
				return fmt.Errorf("truncating torn ledger record %d: %w", n, err)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("decoding ledger record %d: %w", n, err)
		}
		if err := l.apply(context.Background(), &ev); err != nil {
			return fmt.Errorf("replaying ledger record %d (%s): %w", n, ev.Kind, err)
		}
		good = dec.NumBytesRead()
	}
	if _, err := l.f.Seek(int64(good), io.SeekStart); err != nil {
		return fmt.Errorf("seeking ledger log: %w", err)
	}
	return nil
}

// apply replays ev onto the in-memory state. Callers must hold l.mu
// (or be replaying before l is shared).
func (l *LogFileLedger) apply(ctx context.Context, ev *event) error {
	l.at.set(ev.At)
	caller := dv.Identity(ev.Caller)

	switch ev.Kind {
	case eventCreateVault:
		if ev.Vault == nil {
			return errors.New("create_vault record without vault")
		}
		id, err := l.state.CreateVault(ctx, caller, ev.Vault.spec())
		if err != nil {
			return err
		}
		if id != ev.VaultID {
			return fmt.Errorf("replayed vault id %d, log says %d", id, ev.VaultID)
		}
		return nil
	case eventDeleteVault:
		return l.state.DeleteVault(ctx, caller, ev.VaultID)
	case eventAppendFile:
		if ev.File == nil {
			return errors.New("append_file record without file")
		}
		index, err := l.state.AppendFile(ctx, caller, ev.VaultID, dv.FileEntry{
			CID:       ev.File.CID,
			Name:      ev.File.Name,
			SizeBytes: ev.File.SizeBytes,
			Extension: ev.File.Extension,
		})
		if err != nil {
			return err
		}
		if index != ev.Index {
			return fmt.Errorf("replayed slot %d, log says %d", index, ev.Index)
		}
		return nil
	case eventDeleteFile:
		return l.state.DeleteFile(ctx, caller, ev.VaultID, ev.Index)
	default:
		return fmt.Errorf("unknown record kind %q", ev.Kind)
	}
}

// commit appends ev to the log, syncs it, then applies it.
// Callers must hold l.mu and have validated ev against the current state.
func (l *LogFileLedger) commit(ctx context.Context, op string, ev *event) error {
	if err := ctx.Err(); err != nil {
		return dv.NewLedgerError(op, dv.ErrUnavailable, err)
	}
	data, err := logEncMode.Marshal(ev)
	if err != nil {
		return dv.NewLedgerError(op, dv.ErrUnavailable, fmt.Errorf("encoding record: %w", err))
	}
	end, err := l.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return dv.NewLedgerError(op, dv.ErrUnavailable, fmt.Errorf("locating end of log: %w", err))
	}
	if _, err := l.f.Write(data); err != nil {
		return l.rollback(op, end, fmt.Errorf("writing record: %w", err))
	}
	if err := l.f.Sync(); err != nil {
		return l.rollback(op, end, fmt.Errorf("syncing log: %w", err))
	}
	// The state was validated under l.mu, so this cannot fail.
	return l.apply(context.Background(), ev)
}

// rollback cuts a failed record back off the log so the next commit
// starts at end instead of after torn bytes.
func (l *LogFileLedger) rollback(op string, end int64, cause error) error {
	if err := l.f.Truncate(end); err != nil {
		cause = errors.Join(cause, fmt.Errorf("truncating log: %w", err))
	} else if _, err := l.f.Seek(end, io.SeekStart); err != nil {
		cause = errors.Join(cause, fmt.Errorf("seeking log: %w", err))
	}
	return dv.NewLedgerError(op, dv.ErrUnavailable, cause)
}

func (l *LogFileLedger) CreateVault(ctx context.Context, caller dv.Identity, spec dv.VaultSpec) (uint64, error) {
	if caller == "" {
		return 0, dv.NewLedgerError(OpCreateVault, dv.ErrInvalidInput, errEmptyCaller)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.state.VaultCount(ctx)
	if err != nil {
		return 0, err
	}
	ev := &event{
		Kind:    eventCreateVault,
		At:      l.clock.Now().UTC(),
		Caller:  string(caller),
		VaultID: id,
		Vault:   newVaultRecord(spec),
	}
	if err := l.commit(ctx, OpCreateVault, ev); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *LogFileLedger) VaultCount(ctx context.Context) (uint64, error) {
	return l.state.VaultCount(ctx)
}

func (l *LogFileLedger) GetVault(ctx context.Context, id uint64) (*dv.VaultRecord, error) {
	return l.state.GetVault(ctx, id)
}

func (l *LogFileLedger) DeleteVault(ctx context.Context, caller dv.Identity, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.state.GetVault(ctx, id)
	if err != nil {
		return relabel(OpDeleteVault, err)
	}
	if !v.Owner.Matches(caller) {
		return dv.NewLedgerError(OpDeleteVault, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", id, v.Owner))
	}
	return l.commit(ctx, OpDeleteVault, &event{
		Kind:    eventDeleteVault,
		At:      l.clock.Now().UTC(),
		Caller:  string(caller),
		VaultID: id,
	})
}

func (l *LogFileLedger) FileCount(ctx context.Context, vaultID uint64) (uint64, error) {
	return l.state.FileCount(ctx, vaultID)
}

func (l *LogFileLedger) GetFile(ctx context.Context, vaultID uint64, index uint64) (*dv.FileSlot, error) {
	return l.state.GetFile(ctx, vaultID, index)
}

func (l *LogFileLedger) AppendFile(ctx context.Context, caller dv.Identity, vaultID uint64, entry dv.FileEntry) (uint64, error) {
	if entry.CID == "" {
		return 0, dv.NewLedgerError(OpAppendFile, dv.ErrInvalidInput, errEmptyCID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.state.GetVault(ctx, vaultID)
	if err != nil {
		return 0, relabel(OpAppendFile, err)
	}
	if !v.CanAppend(caller) {
		return 0, dv.NewLedgerError(OpAppendFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is private to %s", vaultID, v.Owner))
	}
	index, err := l.state.FileCount(ctx, vaultID)
	if err != nil {
		return 0, relabel(OpAppendFile, err)
	}

	err = l.commit(ctx, OpAppendFile, &event{
		Kind:    eventAppendFile,
		At:      l.clock.Now().UTC(),
		Caller:  string(caller),
		VaultID: vaultID,
		Index:   index,
		File: &fileRecord{
			CID:       entry.CID,
			Name:      entry.Name,
			SizeBytes: entry.SizeBytes,
			Extension: entry.Extension,
		},
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

func (l *LogFileLedger) DeleteFile(ctx context.Context, caller dv.Identity, vaultID uint64, index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.state.GetVault(ctx, vaultID)
	if err != nil {
		return relabel(OpDeleteFile, err)
	}
	if !v.Owner.Matches(caller) {
		return dv.NewLedgerError(OpDeleteFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", vaultID, v.Owner))
	}
	if _, err := l.state.GetFile(ctx, vaultID, index); err != nil {
		return relabel(OpDeleteFile, err)
	}
	return l.commit(ctx, OpDeleteFile, &event{
		Kind:    eventDeleteFile,
		At:      l.clock.Now().UTC(),
		Caller:  string(caller),
		VaultID: vaultID,
		Index:   index,
	})
}

func (l *LogFileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func newVaultRecord(spec dv.VaultSpec) *vaultRecord {
	return &vaultRecord{
		Name:            spec.Name,
		Description:     spec.Description,
		SizeHint:        spec.SizeHint,
		EncryptionLevel: spec.EncryptionLevel,
		FileCountSeed:   spec.FileCountSeed,
		StorageLimitGB:  spec.StorageLimitGB,
		AccessType:      string(spec.AccessType),
		LastAccessed:    spec.LastAccessed.UTC(),
	}
}

func (r *vaultRecord) spec() dv.VaultSpec {
	return dv.VaultSpec{
		Name:            r.Name,
		Description:     r.Description,
		SizeHint:        r.SizeHint,
		EncryptionLevel: r.EncryptionLevel,
		FileCountSeed:   r.FileCountSeed,
		StorageLimitGB:  r.StorageLimitGB,
		AccessType:      dv.AccessType(r.AccessType),
		LastAccessed:    r.LastAccessed,
	}
}

// relabel re-issues a LedgerError from a validation read under the caller's op name.
func relabel(op string, err error) error {
	var le *dv.LedgerError
	if errors.As(err, &le) {
		return dv.NewLedgerError(op, le.Kind, le.Err)
	}
	return backendError(op, err)
}
