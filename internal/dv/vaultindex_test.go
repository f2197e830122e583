package dv_test

import (
	"context"
	"path/filepath"
	"testing"

	"dvault/internal/dv"
	"dvault/internal/ledger"
	"dvault/internal/testutil"
)

const (
	owner    dv.Identity = "0xABCdef0123"
	stranger dv.Identity = "0x5742A9"
)

func createVault(t *testing.T, l dv.Ledger, caller dv.Identity, name string) uint64 {
	t.Helper()
	id, err := l.CreateVault(context.Background(), caller, dv.VaultSpec{Name: name}.WithDefaults(testutil.FixedClock().Now()))
	if err != nil {
		t.Fatalf("CreateVault() error = %v", err)
	}
	return id
}

func vaultIDs(list *dv.VaultList) []uint64 {
	ids := make([]uint64, 0, len(list.Vaults))
	for _, v := range list.Vaults {
		ids = append(ids, v.ID)
	}
	return ids
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestVaultIndex_Enumerate(t *testing.T) {
	setup := func(t *testing.T) (*testutil.FlakyLedger, *dv.VaultIndex, *testutil.RecordingRecorder) {
		t.Helper()
		l := testutil.NewFlakyLedger(ledger.NewMemoryLedger(testutil.FixedClock()))
		rec := testutil.NewRecordingRecorder()
		return l, dv.NewVaultIndex(l, dv.NewNopLogger(), rec, 0), rec
	}

	t.Run("filters by owner case-insensitively", func(t *testing.T) {
		l, idx, _ := setup(t)
		createVault(t, l, owner, "mine")
		createVault(t, l, stranger, "theirs")
		createVault(t, l, "0xabcDEF0123", "mine too")

		list, err := idx.Enumerate(context.Background(), "0xabcdef0123")
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if got, want := vaultIDs(list), []uint64{0, 2}; !equalIDs(got, want) {
			t.Errorf("vault ids = %v, want %v", got, want)
		}

		list, err = idx.Enumerate(context.Background(), "0xnobody")
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if len(list.Vaults) != 0 {
			t.Errorf("unrelated caller sees %d vaults, want 0", len(list.Vaults))
		}
	})

	t.Run("excludes tombstoned vaults silently", func(t *testing.T) {
		l, idx, rec := setup(t)
		createVault(t, l, owner, "a")
		gone := createVault(t, l, owner, "b")
		createVault(t, l, owner, "c")
		if err := l.DeleteVault(context.Background(), owner, gone); err != nil {
			t.Fatalf("DeleteVault() error = %v", err)
		}

		list, err := idx.Enumerate(context.Background(), owner)
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if got, want := vaultIDs(list), []uint64{0, 2}; !equalIDs(got, want) {
			t.Errorf("vault ids = %v, want %v", got, want)
		}
		if list.Coverage != (dv.Coverage{Attempted: 3, Excluded: 1}) {
			t.Errorf("Coverage = %+v, want 3 attempted, 1 excluded", list.Coverage)
		}
		if list.Coverage.Partial() {
			t.Error("tombstones should not make the list partial")
		}
		if !idx.IsTombstoned(gone) {
			t.Error("observed tombstone was not remembered")
		}
		if rec.Skipped("vaults", "tombstoned") != 0 {
			t.Error("tombstones should not be recorded as skipped items")
		}
	})

	t.Run("known tombstones are not queried again", func(t *testing.T) {
		l, idx, _ := setup(t)
		createVault(t, l, owner, "a")
		idx.MarkTombstoned(0)

		list, err := idx.Enumerate(context.Background(), owner)
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if len(list.Vaults) != 0 {
			t.Errorf("vaults = %v, want none", vaultIDs(list))
		}
		if l.Calls(testutil.GetVault) != 0 {
			t.Errorf("GetVault calls = %d, want 0", l.Calls(testutil.GetVault))
		}
	})

	t.Run("one unreadable vault does not abort the walk", func(t *testing.T) {
		l, idx, rec := setup(t)
		for i := 0; i < 5; i++ {
			createVault(t, l, owner, "v")
		}
		l.FailVault(testutil.GetVault, 2, testutil.Unavailable("getVault"))

		list, err := idx.Enumerate(context.Background(), owner)
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if got, want := vaultIDs(list), []uint64{0, 1, 3, 4}; !equalIDs(got, want) {
			t.Errorf("vault ids = %v, want %v", got, want)
		}
		if !list.Coverage.Partial() || list.Coverage.Failed != 1 {
			t.Errorf("Coverage = %+v, want exactly one failure", list.Coverage)
		}
		if rec.Skipped("vaults", "unavailable") != 1 {
			t.Errorf("skipped unavailable = %d, want 1", rec.Skipped("vaults", "unavailable"))
		}
		if idx.IsTombstoned(2) {
			t.Error("a failed read must not be remembered as a tombstone")
		}
	})

	t.Run("all reads failing is flagged, not silently empty", func(t *testing.T) {
		l, idx, _ := setup(t)
		createVault(t, l, owner, "a")
		createVault(t, l, owner, "b")
		l.FailOp(testutil.GetVault, testutil.Unavailable("getVault"))

		list, err := idx.Enumerate(context.Background(), owner)
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if len(list.Vaults) != 0 {
			t.Errorf("vaults = %v, want none", vaultIDs(list))
		}
		if !list.Coverage.AllFailed() {
			t.Errorf("Coverage = %+v, want AllFailed", list.Coverage)
		}

		empty, _, _ := setup(t)
		emptyList, err := dv.NewVaultIndex(empty, dv.NewNopLogger(), dv.NopRecorder{}, 0).Enumerate(context.Background(), owner)
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if emptyList.Coverage.AllFailed() || emptyList.Coverage.Partial() {
			t.Errorf("legitimately empty ledger reported as failed: %+v", emptyList.Coverage)
		}
	})

	t.Run("count failure fails the walk", func(t *testing.T) {
		l, idx, _ := setup(t)
		l.FailOp(testutil.VaultCount, testutil.Unavailable("getVaultCount"))

		_, err := idx.Enumerate(context.Background(), owner)
		if dv.KindOf(err) != dv.ErrUnavailable {
			t.Errorf("Enumerate() error = %v, want unavailable", err)
		}
	})

	t.Run("records the walk", func(t *testing.T) {
		l, idx, rec := setup(t)
		createVault(t, l, owner, "a")

		if _, err := idx.Enumerate(context.Background(), owner); err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		walks := rec.Walks()
		if len(walks) != 1 || walks[0].Walk != "vaults" || walks[0].Coverage.Attempted != 1 {
			t.Errorf("walks = %+v, want one vaults walk over 1 id", walks)
		}
	})
}

// A deleted vault stays excluded for a fresh index over a reopened ledger.
func TestVaultIndex_TombstoneSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := ledger.NewSQLiteLedger(path, testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	createVault(t, l, owner, "a")
	gone := createVault(t, l, owner, "b")
	if err := l.DeleteVault(context.Background(), owner, gone); err != nil {
		t.Fatalf("DeleteVault() error = %v", err)
	}
	l.Close()

	reopened, err := ledger.NewSQLiteLedger(path, testutil.FixedClock())
	if err != nil {
		t.Fatalf("reopening ledger: %v", err)
	}
	defer reopened.Close()

	idx := dv.NewVaultIndex(reopened, dv.NewNopLogger(), dv.NopRecorder{}, 0)
	for i := 0; i < 2; i++ {
		list, err := idx.Enumerate(context.Background(), owner)
		if err != nil {
			t.Fatalf("Enumerate() error = %v", err)
		}
		if got, want := vaultIDs(list), []uint64{0}; !equalIDs(got, want) {
			t.Errorf("pass %d: vault ids = %v, want %v", i, got, want)
		}
	}
}
