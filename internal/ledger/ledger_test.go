package ledger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dvault/internal/dv"
	"dvault/internal/ledger"
	"dvault/internal/testutil"
)

const (
	alice dv.Identity = "0xA11CE"
	bob   dv.Identity = "0xB0B"
)

type backend struct {
	name string
	open func(t *testing.T, clock dv.Clock) dv.Ledger
}

// backends returns every ledger implementation the contract tests run against.
// PostgreSQL is included when DVAULT_TEST_POSTGRES_DSN is set.
func backends() []backend {
	bs := []backend{
		{"memory", func(t *testing.T, clock dv.Clock) dv.Ledger {
			return ledger.NewMemoryLedger(clock)
		}},
		{"sqlite", func(t *testing.T, clock dv.Clock) dv.Ledger {
			l, err := ledger.NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), clock)
			if err != nil {
				t.Fatalf("NewSQLiteLedger() error = %v", err)
			}
			return l
		}},
		{"logfile", func(t *testing.T, clock dv.Clock) dv.Ledger {
			l, err := ledger.NewLogFileLedger(filepath.Join(t.TempDir(), "ledger.log"), clock)
			if err != nil {
				t.Fatalf("NewLogFileLedger() error = %v", err)
			}
			return l
		}},
	}
	if dsn := os.Getenv("DVAULT_TEST_POSTGRES_DSN"); dsn != "" {
		bs = append(bs, backend{"postgres", func(t *testing.T, clock dv.Clock) dv.Ledger {
			l, err := ledger.NewPostgresLedger(context.Background(), dsn, clock)
			if err != nil {
				t.Fatalf("NewPostgresLedger() error = %v", err)
			}
			if _, err := l.DB().Exec(`TRUNCATE file_slots, vaults`); err != nil {
				t.Fatalf("truncating tables: %v", err)
			}
			return l
		}})
	}
	return bs
}

// forEachBackend runs fn against a fresh ledger of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, l dv.Ledger, clock *testutil.StubClock)) {
	t.Helper()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := testutil.FixedClock()
			l := b.open(t, clock)
			t.Cleanup(func() { l.Close() })
			fn(t, l, clock)
		})
	}
}

func assertKind(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := dv.KindOf(err); got != want {
		t.Fatalf("error kind = %v, want %v (error: %v)", got, want, err)
	}
}

func mustCreate(t *testing.T, l dv.Ledger, caller dv.Identity, spec dv.VaultSpec) uint64 {
	t.Helper()
	id, err := l.CreateVault(context.Background(), caller, spec)
	if err != nil {
		t.Fatalf("CreateVault() error = %v", err)
	}
	return id
}

func mustAppend(t *testing.T, l dv.Ledger, caller dv.Identity, vaultID uint64, entry dv.FileEntry) uint64 {
	t.Helper()
	index, err := l.AppendFile(context.Background(), caller, vaultID, entry)
	if err != nil {
		t.Fatalf("AppendFile() error = %v", err)
	}
	return index
}

func privateSpec(name string) dv.VaultSpec {
	return dv.VaultSpec{Name: name}.WithDefaults(testutil.FixedClock().Now())
}

func TestLedger_VaultIDsAreDense(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		ctx := context.Background()
		for want := uint64(0); want < 3; want++ {
			if got := mustCreate(t, l, alice, privateSpec("v")); got != want {
				t.Errorf("CreateVault() id = %d, want %d", got, want)
			}
		}

		// Deleting a vault does not free its id.
		if err := l.DeleteVault(ctx, alice, 1); err != nil {
			t.Fatalf("DeleteVault() error = %v", err)
		}
		if got := mustCreate(t, l, bob, privateSpec("w")); got != 3 {
			t.Errorf("CreateVault() after delete id = %d, want 3", got)
		}

		n, err := l.VaultCount(ctx)
		if err != nil {
			t.Fatalf("VaultCount() error = %v", err)
		}
		if n != 4 {
			t.Errorf("VaultCount() = %d, want 4", n)
		}
	})
}

func TestLedger_CreateVault_EmptyCaller(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		_, err := l.CreateVault(context.Background(), "", privateSpec("v"))
		assertKind(t, err, dv.ErrInvalidInput)
	})
}

func TestLedger_GetVault(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, clock *testutil.StubClock) {
		ctx := context.Background()
		spec := dv.VaultSpec{
			Name:            "Photos",
			Description:     "holiday pictures",
			SizeHint:        2048,
			EncryptionLevel: "AES-256",
			FileCountSeed:   7,
			StorageLimitGB:  10,
			AccessType:      dv.AccessShared,
			LastAccessed:    clock.Now().Add(-time.Hour),
		}
		id := mustCreate(t, l, alice, spec)

		got, err := l.GetVault(ctx, id)
		if err != nil {
			t.Fatalf("GetVault() error = %v", err)
		}
		if got.ID != id || got.Owner != alice {
			t.Errorf("GetVault() id/owner = %d/%s, want %d/%s", got.ID, got.Owner, id, alice)
		}
		if !got.LastAccessed.Equal(spec.LastAccessed) {
			t.Errorf("LastAccessed = %v, want %v", got.LastAccessed, spec.LastAccessed)
		}
		got.LastAccessed = spec.LastAccessed
		if got.VaultSpec != spec {
			t.Errorf("GetVault() spec = %+v, want %+v", got.VaultSpec, spec)
		}

		_, err = l.GetVault(ctx, id+1)
		assertKind(t, err, dv.ErrNotFound)
	})
}

func TestLedger_DeleteVault(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		ctx := context.Background()
		id := mustCreate(t, l, alice, privateSpec("v"))
		mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-a", Name: "a.txt", SizeBytes: 1})

		assertKind(t, l.DeleteVault(ctx, bob, id), dv.ErrUnauthorized)

		// Owner comparison ignores case.
		if err := l.DeleteVault(ctx, "0xa11ce", id); err != nil {
			t.Fatalf("DeleteVault() error = %v", err)
		}

		_, err := l.GetVault(ctx, id)
		assertKind(t, err, dv.ErrTombstoned)
		_, err = l.FileCount(ctx, id)
		assertKind(t, err, dv.ErrTombstoned)
		_, err = l.GetFile(ctx, id, 0)
		assertKind(t, err, dv.ErrTombstoned)
		_, err = l.AppendFile(ctx, alice, id, dv.FileEntry{CID: "cid-b", Name: "b.txt"})
		assertKind(t, err, dv.ErrTombstoned)
		assertKind(t, l.DeleteVault(ctx, alice, id), dv.ErrTombstoned)

		assertKind(t, l.DeleteVault(ctx, alice, id+5), dv.ErrNotFound)
	})
}

func TestLedger_AppendFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, clock *testutil.StubClock) {
		ctx := context.Background()
		id := mustCreate(t, l, alice, privateSpec("v"))

		for want := uint64(0); want < 3; want++ {
			n, err := l.FileCount(ctx, id)
			if err != nil {
				t.Fatalf("FileCount() error = %v", err)
			}
			if n != want {
				t.Fatalf("FileCount() = %d, want %d", n, want)
			}
			got := mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid", Name: "f.pdf", SizeBytes: 10, Extension: "pdf"})
			if got != want {
				t.Errorf("AppendFile() index = %d, want %d (file count before the call)", got, want)
			}
			clock.Advance(time.Minute)
		}

		slot, err := l.GetFile(ctx, id, 1)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		want := dv.FileSlot{
			VaultID:    id,
			Index:      1,
			CID:        "cid",
			Name:       "f.pdf",
			SizeBytes:  10,
			Extension:  "pdf",
			UploadedAt: testutil.FixedClock().Now().Add(time.Minute),
			Owner:      alice,
		}
		if !slot.UploadedAt.Equal(want.UploadedAt) {
			t.Errorf("UploadedAt = %v, want %v", slot.UploadedAt, want.UploadedAt)
		}
		slot.UploadedAt = want.UploadedAt
		if *slot != want {
			t.Errorf("GetFile() = %+v, want %+v", *slot, want)
		}

		_, err = l.GetFile(ctx, id, 3)
		assertKind(t, err, dv.ErrNotFound)
		_, err = l.FileCount(ctx, id+1)
		assertKind(t, err, dv.ErrNotFound)
	})
}

func TestLedger_AppendFile_Rejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		ctx := context.Background()
		id := mustCreate(t, l, alice, privateSpec("v"))

		_, err := l.AppendFile(ctx, alice, id, dv.FileEntry{Name: "no-cid.txt"})
		assertKind(t, err, dv.ErrInvalidInput)

		_, err = l.AppendFile(ctx, bob, id, dv.FileEntry{CID: "cid", Name: "x"})
		assertKind(t, err, dv.ErrUnauthorized)

		_, err = l.AppendFile(ctx, alice, id+1, dv.FileEntry{CID: "cid", Name: "x"})
		assertKind(t, err, dv.ErrNotFound)

		n, err := l.FileCount(ctx, id)
		if err != nil {
			t.Fatalf("FileCount() error = %v", err)
		}
		if n != 0 {
			t.Errorf("FileCount() after rejected appends = %d, want 0", n)
		}
	})
}

func TestLedger_SharedVault(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		ctx := context.Background()
		spec := privateSpec("team")
		spec.AccessType = dv.AccessShared
		id := mustCreate(t, l, alice, spec)

		index := mustAppend(t, l, bob, id, dv.FileEntry{CID: "cid-bob", Name: "bob.txt", SizeBytes: 3})
		slot, err := l.GetFile(ctx, id, index)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if slot.Owner != bob {
			t.Errorf("slot owner = %s, want %s", slot.Owner, bob)
		}

		// Only the vault owner may tombstone, even in a shared vault.
		assertKind(t, l.DeleteFile(ctx, bob, id, index), dv.ErrUnauthorized)
		assertKind(t, l.DeleteVault(ctx, bob, id), dv.ErrUnauthorized)
	})
}

func TestLedger_DeleteFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		ctx := context.Background()
		id := mustCreate(t, l, alice, privateSpec("v"))
		mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-0", Name: "a.png", SizeBytes: 100, Extension: "png"})
		mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-1", Name: "b.png", SizeBytes: 200, Extension: "png"})

		assertKind(t, l.DeleteFile(ctx, bob, id, 0), dv.ErrUnauthorized)

		if err := l.DeleteFile(ctx, alice, id, 0); err != nil {
			t.Fatalf("DeleteFile() error = %v", err)
		}
		// Deleting an already blank slot is accepted.
		if err := l.DeleteFile(ctx, alice, id, 0); err != nil {
			t.Fatalf("second DeleteFile() error = %v", err)
		}

		slot, err := l.GetFile(ctx, id, 0)
		if err != nil {
			t.Fatalf("GetFile() error = %v", err)
		}
		if want := (dv.FileSlot{VaultID: id, Index: 0}); *slot != want {
			t.Errorf("deleted slot = %+v, want blank %+v", *slot, want)
		}
		if !slot.Tombstoned() {
			t.Error("deleted slot should be tombstoned")
		}

		n, err := l.FileCount(ctx, id)
		if err != nil {
			t.Fatalf("FileCount() error = %v", err)
		}
		if n != 2 {
			t.Errorf("FileCount() after delete = %d, want 2", n)
		}

		other, err := l.GetFile(ctx, id, 1)
		if err != nil {
			t.Fatalf("GetFile(1) error = %v", err)
		}
		if other.CID != "cid-1" {
			t.Errorf("untouched slot cid = %q, want %q", other.CID, "cid-1")
		}

		// New appends never reuse the blank slot.
		if got := mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-2", Name: "c.png"}); got != 2 {
			t.Errorf("AppendFile() after delete index = %d, want 2", got)
		}

		assertKind(t, l.DeleteFile(ctx, alice, id, 9), dv.ErrNotFound)
	})
}

func TestLedger_IDsBeyondInt64(t *testing.T) {
	const huge = uint64(1) << 63

	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		ctx := context.Background()
		id := mustCreate(t, l, alice, privateSpec("v"))
		mustAppend(t, l, alice, id, dv.FileEntry{CID: "cid-0", Name: "a.txt", SizeBytes: 1})

		tests := []struct {
			name string
			call func() error
		}{
			{"get vault", func() error { _, err := l.GetVault(ctx, huge); return err }},
			{"delete vault", func() error { return l.DeleteVault(ctx, alice, huge) }},
			{"file count", func() error { _, err := l.FileCount(ctx, huge); return err }},
			{"append to vault", func() error {
				_, err := l.AppendFile(ctx, alice, huge, dv.FileEntry{CID: "cid", Name: "b.txt"})
				return err
			}},
			{"get slot", func() error { _, err := l.GetFile(ctx, id, huge); return err }},
			{"delete slot", func() error { return l.DeleteFile(ctx, alice, id, huge) }},
			{"get slot of vault", func() error { _, err := l.GetFile(ctx, huge, 0); return err }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assertKind(t, tt.call(), dv.ErrNotFound)
			})
		}
	})
}

func TestLedger_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, l dv.Ledger, _ *testutil.StubClock) {
		id := mustCreate(t, l, alice, privateSpec("v"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := l.VaultCount(ctx)
		assertKind(t, err, dv.ErrUnavailable)
		_, err = l.GetVault(ctx, id)
		assertKind(t, err, dv.ErrUnavailable)
		_, err = l.AppendFile(ctx, alice, id, dv.FileEntry{CID: "cid", Name: "x"})
		assertKind(t, err, dv.ErrUnavailable)
	})
}

func TestLedger_ErrorsCarryOperation(t *testing.T) {
	l := ledger.NewMemoryLedger(testutil.FixedClock())
	_, err := l.GetFile(context.Background(), 4, 0)

	var le *dv.LedgerError
	if !errors.As(err, &le) {
		t.Fatalf("GetFile() error %T is not a *dv.LedgerError", err)
	}
	if le.Op != ledger.OpGetFile {
		t.Errorf("Op = %q, want %q", le.Op, ledger.OpGetFile)
	}
	if !errors.Is(err, dv.ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false for %v", err)
	}
}
