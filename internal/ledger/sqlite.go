package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"dvault/internal/dv"
	"dvault/internal/ledger/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLedger implements dv.Ledger on a SQLite database.
// Vault deletion sets a flag; file deletion blanks the slot row in place.
type SQLiteLedger struct {
	db    *sql.DB
	clock dv.Clock

	// writes serializes id and slot assignment within this process.
	writes sync.Mutex
}

var _ dv.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (creating if needed) the ledger database at path and
// migrates it to the latest schema. path may be ":memory:".
func NewSQLiteLedger(path string, clock dv.Clock) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger database: %w", err)
	}
	return &SQLiteLedger{db: db, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every new connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// DB exposes the underlying connection, e.g. for migration status checks.
func (s *SQLiteLedger) DB() *sql.DB {
	return s.db
}

func (s *SQLiteLedger) CreateVault(ctx context.Context, caller dv.Identity, spec dv.VaultSpec) (uint64, error) {
	if caller == "" {
		return 0, dv.NewLedgerError(OpCreateVault, dv.ErrInvalidInput, errEmptyCaller)
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	var id uint64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vaults`).Scan(&id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vaults (
				id, owner, name, description, size_hint, encryption_level,
				file_count_seed, storage_limit_gb, access_type, last_accessed, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(caller), spec.Name, spec.Description, spec.SizeHint, spec.EncryptionLevel,
			spec.FileCountSeed, spec.StorageLimitGB, string(spec.AccessType),
			formatTime(spec.LastAccessed), formatTime(s.clock.Now()),
		)
		return err
	})
	if err != nil {
		return 0, backendError(OpCreateVault, err)
	}
	return id, nil
}

func (s *SQLiteLedger) VaultCount(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vaults`).Scan(&n); err != nil {
		return 0, backendError(OpVaultCount, err)
	}
	return n, nil
}

func (s *SQLiteLedger) GetVault(ctx context.Context, id uint64) (*dv.VaultRecord, error) {
	return s.vault(ctx, s.db, OpGetVault, id)
}

func (s *SQLiteLedger) DeleteVault(ctx context.Context, caller dv.Identity, id uint64) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	return s.inLedgerTx(ctx, OpDeleteVault, func(tx *sql.Tx) error {
		v, err := s.vault(ctx, tx, OpDeleteVault, id)
		if err != nil {
			return err
		}
		if !v.Owner.Matches(caller) {
			return dv.NewLedgerError(OpDeleteVault, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", id, v.Owner))
		}
		_, err = tx.ExecContext(ctx, `UPDATE vaults SET deleted = 1 WHERE id = ?`, id)
		return err
	})
}

func (s *SQLiteLedger) FileCount(ctx context.Context, vaultID uint64) (uint64, error) {
	var n uint64
	err := s.inLedgerTx(ctx, OpFileCount, func(tx *sql.Tx) error {
		if _, err := s.vault(ctx, tx, OpFileCount, vaultID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_slots WHERE vault_id = ?`, vaultID).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteLedger) GetFile(ctx context.Context, vaultID uint64, index uint64) (*dv.FileSlot, error) {
	var slot *dv.FileSlot
	err := s.inLedgerTx(ctx, OpGetFile, func(tx *sql.Tx) error {
		if _, err := s.vault(ctx, tx, OpGetFile, vaultID); err != nil {
			return err
		}
		if err := slotOutOfRange(OpGetFile, vaultID, index); err != nil {
			return err
		}
		var (
			uploadedAt sql.NullString
			err        error
		)
		slot = &dv.FileSlot{VaultID: vaultID, Index: index}
		err = tx.QueryRowContext(ctx, `
			SELECT cid, name, size_bytes, extension, uploaded_at, owner
			FROM file_slots WHERE vault_id = ? AND slot_index = ?`, vaultID, index,
		).Scan(&slot.CID, &slot.Name, &slot.SizeBytes, &slot.Extension, &uploadedAt, &slot.Owner)
		if errors.Is(err, sql.ErrNoRows) {
			return dv.NewLedgerError(OpGetFile, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
		}
		if err != nil {
			return err
		}
		slot.UploadedAt, err = parseNullTime(uploadedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *SQLiteLedger) AppendFile(ctx context.Context, caller dv.Identity, vaultID uint64, entry dv.FileEntry) (uint64, error) {
	if entry.CID == "" {
		return 0, dv.NewLedgerError(OpAppendFile, dv.ErrInvalidInput, errEmptyCID)
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	var index uint64
	err := s.inLedgerTx(ctx, OpAppendFile, func(tx *sql.Tx) error {
		v, err := s.vault(ctx, tx, OpAppendFile, vaultID)
		if err != nil {
			return err
		}
		if !v.CanAppend(caller) {
			return dv.NewLedgerError(OpAppendFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is private to %s", vaultID, v.Owner))
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_slots WHERE vault_id = ?`, vaultID).Scan(&index); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_slots (vault_id, slot_index, cid, name, size_bytes, extension, uploaded_at, owner)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			vaultID, index, entry.CID, entry.Name, entry.SizeBytes, entry.Extension,
			formatTime(s.clock.Now()), string(caller),
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

func (s *SQLiteLedger) DeleteFile(ctx context.Context, caller dv.Identity, vaultID uint64, index uint64) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	return s.inLedgerTx(ctx, OpDeleteFile, func(tx *sql.Tx) error {
		v, err := s.vault(ctx, tx, OpDeleteFile, vaultID)
		if err != nil {
			return err
		}
		if !v.Owner.Matches(caller) {
			return dv.NewLedgerError(OpDeleteFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", vaultID, v.Owner))
		}
		if err := slotOutOfRange(OpDeleteFile, vaultID, index); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE file_slots
			SET cid = '', name = '', size_bytes = 0, extension = '', uploaded_at = NULL, owner = ''
			WHERE vault_id = ? AND slot_index = ?`, vaultID, index)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return dv.NewLedgerError(OpDeleteFile, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
		}
		return nil
	})
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// vault loads a live vault row, failing NotFound or Tombstoned.
func (s *SQLiteLedger) vault(ctx context.Context, q queryRower, op string, id uint64) (*dv.VaultRecord, error) {
	var (
		v            dv.VaultRecord
		access       string
		lastAccessed string
		deleted      bool
	)
	if err := vaultOutOfRange(op, id); err != nil {
		return nil, err
	}
	err := q.QueryRowContext(ctx, `
		SELECT id, owner, name, description, size_hint, encryption_level,
		       file_count_seed, storage_limit_gb, access_type, last_accessed, deleted
		FROM vaults WHERE id = ?`, id,
	).Scan(&v.ID, &v.Owner, &v.Name, &v.Description, &v.SizeHint, &v.EncryptionLevel,
		&v.FileCountSeed, &v.StorageLimitGB, &access, &lastAccessed, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dv.NewLedgerError(op, dv.ErrNotFound, fmt.Errorf("vault %d", id))
	}
	if err != nil {
		return nil, backendError(op, err)
	}
	if deleted {
		return nil, dv.NewLedgerError(op, dv.ErrTombstoned, fmt.Errorf("vault %d", id))
	}
	v.AccessType = dv.AccessType(access)
	if v.LastAccessed, err = parseTime(lastAccessed); err != nil {
		return nil, backendError(op, err)
	}
	return &v, nil
}

func (s *SQLiteLedger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// inLedgerTx runs fn in a transaction and maps any failure to a LedgerError.
func (s *SQLiteLedger) inLedgerTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := s.inTx(ctx, fn); err != nil {
		return backendError(op, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}
