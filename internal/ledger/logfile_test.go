package ledger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dvault/internal/dv"
	"dvault/internal/ledger"
	"dvault/internal/testutil"
)

func TestLogFileLedger_ReplaysOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	clock := testutil.FixedClock()
	ctx := context.Background()

	l, err := ledger.NewLogFileLedger(path, clock)
	if err != nil {
		t.Fatalf("NewLogFileLedger() error = %v", err)
	}
	kept := mustCreate(t, l, alice, privateSpec("kept"))
	gone := mustCreate(t, l, alice, privateSpec("gone"))
	mustAppend(t, l, alice, kept, dv.FileEntry{CID: "cid-0", Name: "a.txt", SizeBytes: 5, Extension: "txt"})
	clock.Advance(90 * time.Second)
	mustAppend(t, l, alice, kept, dv.FileEntry{CID: "cid-1", Name: "b.txt", SizeBytes: 7, Extension: "txt"})
	if err := l.DeleteFile(ctx, alice, kept, 0); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if err := l.DeleteVault(ctx, alice, gone); err != nil {
		t.Fatalf("DeleteVault() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A different clock proves timestamps come from the log, not the reopen.
	reopened, err := ledger.NewLogFileLedger(path, testutil.NewStubClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("reopening log: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.VaultCount(ctx)
	if err != nil || n != 2 {
		t.Fatalf("VaultCount() = %d, %v; want 2", n, err)
	}
	if _, err := reopened.GetVault(ctx, gone); dv.KindOf(err) != dv.ErrTombstoned {
		t.Errorf("GetVault(gone) error = %v, want tombstoned", err)
	}

	slot0, err := reopened.GetFile(ctx, kept, 0)
	if err != nil {
		t.Fatalf("GetFile(0) error = %v", err)
	}
	if !slot0.Tombstoned() {
		t.Errorf("slot 0 = %+v, want tombstoned", slot0)
	}

	slot1, err := reopened.GetFile(ctx, kept, 1)
	if err != nil {
		t.Fatalf("GetFile(1) error = %v", err)
	}
	if slot1.CID != "cid-1" || slot1.SizeBytes != 7 {
		t.Errorf("slot 1 = %+v", slot1)
	}
	if want := testutil.FixedClock().Now().Add(90 * time.Second); !slot1.UploadedAt.Equal(want) {
		t.Errorf("slot 1 UploadedAt = %v, want %v", slot1.UploadedAt, want)
	}

	// Appends continue after the replayed state.
	if got := mustAppend(t, reopened, alice, kept, dv.FileEntry{CID: "cid-2", Name: "c.txt"}); got != 2 {
		t.Errorf("AppendFile() after reopen index = %d, want 2", got)
	}
}

func TestLogFileLedger_TruncatesTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	ctx := context.Background()

	l, err := ledger.NewLogFileLedger(path, testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewLogFileLedger() error = %v", err)
	}
	id := mustCreate(t, l, alice, privateSpec("v"))
	l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	good := info.Size()

	l, err = ledger.NewLogFileLedger(path, testutil.FixedClock())
	if err != nil {
		t.Fatalf("reopening log: %v", err)
	}
	mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-torn", Name: "torn.bin", SizeBytes: 1})
	l.Close()

	// Chop the last record in half, as a crash mid-write would.
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if err := os.Truncate(path, good+(info.Size()-good)/2); err != nil {
		t.Fatalf("truncating log: %v", err)
	}

	l, err = ledger.NewLogFileLedger(path, testutil.FixedClock())
	if err != nil {
		t.Fatalf("reopening torn log: %v", err)
	}
	defer l.Close()

	n, err := l.FileCount(ctx, id)
	if err != nil {
		t.Fatalf("FileCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("FileCount() = %d, want 0 (torn append dropped)", n)
	}

	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Size() != good {
		t.Errorf("log size = %d, want %d after truncation", info.Size(), good)
	}

	if got := mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-new", Name: "new.bin"}); got != 0 {
		t.Errorf("AppendFile() index = %d, want 0", got)
	}
}

func TestLogFileLedger_RejectsCorruptLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	// 0xff is a CBOR "break" byte, which cannot start a record.
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x01}, 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}
	if _, err := ledger.NewLogFileLedger(path, testutil.FixedClock()); err == nil {
		t.Fatal("NewLogFileLedger() expected error for corrupt log")
	}
}
