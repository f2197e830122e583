package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"dvault/internal/dv"
	"dvault/internal/ledger/migrations"
)

// PostgresLedger implements dv.Ledger on PostgreSQL.
// Row locks on the vault serialize id and slot assignment across processes.
type PostgresLedger struct {
	pool  *pgxpool.Pool
	db    *sql.DB // database/sql view of pool, used for migrations
	clock dv.Clock
}

var _ dv.Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger connects to databaseURL and migrates the schema.
func NewPostgresLedger(ctx context.Context, databaseURL string, clock dv.Clock) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := migrations.MigrateUp(db, migrations.Postgres); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("migrating ledger database: %w", err)
	}

	return &PostgresLedger{pool: pool, db: db, clock: clock}, nil
}

// DB exposes a database/sql handle on the pool, e.g. for migration status checks.
func (p *PostgresLedger) DB() *sql.DB {
	return p.db
}

func (p *PostgresLedger) CreateVault(ctx context.Context, caller dv.Identity, spec dv.VaultSpec) (uint64, error) {
	if caller == "" {
		return 0, dv.NewLedgerError(OpCreateVault, dv.ErrInvalidInput, errEmptyCaller)
	}

	var id uint64
	err := p.inTx(ctx, OpCreateVault, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE vaults IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var n int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM vaults`).Scan(&n); err != nil {
			return err
		}
		id = uint64(n)
		_, err := tx.Exec(ctx, `
			INSERT INTO vaults (
				id, owner, name, description, size_hint, encryption_level,
				file_count_seed, storage_limit_gb, access_type, last_accessed, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			n, string(caller), spec.Name, spec.Description, spec.SizeHint, spec.EncryptionLevel,
			spec.FileCountSeed, spec.StorageLimitGB, string(spec.AccessType),
			spec.LastAccessed.UTC(), p.clock.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (p *PostgresLedger) VaultCount(ctx context.Context) (uint64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vaults`).Scan(&n); err != nil {
		return 0, backendError(OpVaultCount, err)
	}
	return uint64(n), nil
}

func (p *PostgresLedger) GetVault(ctx context.Context, id uint64) (*dv.VaultRecord, error) {
	return p.vault(ctx, p.pool, OpGetVault, id, false)
}

func (p *PostgresLedger) DeleteVault(ctx context.Context, caller dv.Identity, id uint64) error {
	return p.inTx(ctx, OpDeleteVault, func(tx pgx.Tx) error {
		v, err := p.vault(ctx, tx, OpDeleteVault, id, true)
		if err != nil {
			return err
		}
		if !v.Owner.Matches(caller) {
			return dv.NewLedgerError(OpDeleteVault, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", id, v.Owner))
		}
		_, err = tx.Exec(ctx, `UPDATE vaults SET deleted = TRUE WHERE id = $1`, int64(id))
		return err
	})
}

func (p *PostgresLedger) FileCount(ctx context.Context, vaultID uint64) (uint64, error) {
	if _, err := p.vault(ctx, p.pool, OpFileCount, vaultID, false); err != nil {
		return 0, err
	}
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM file_slots WHERE vault_id = $1`, int64(vaultID)).Scan(&n); err != nil {
		return 0, backendError(OpFileCount, err)
	}
	return uint64(n), nil
}

func (p *PostgresLedger) GetFile(ctx context.Context, vaultID uint64, index uint64) (*dv.FileSlot, error) {
	if _, err := p.vault(ctx, p.pool, OpGetFile, vaultID, false); err != nil {
		return nil, err
	}
	if err := slotOutOfRange(OpGetFile, vaultID, index); err != nil {
		return nil, err
	}

	var (
		slot       = &dv.FileSlot{VaultID: vaultID, Index: index}
		owner      string
		uploadedAt *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT cid, name, size_bytes, extension, uploaded_at, owner
		FROM file_slots WHERE vault_id = $1 AND slot_index = $2`, int64(vaultID), int64(index),
	).Scan(&slot.CID, &slot.Name, &slot.SizeBytes, &slot.Extension, &uploadedAt, &owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dv.NewLedgerError(OpGetFile, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
	}
	if err != nil {
		return nil, backendError(OpGetFile, err)
	}
	slot.Owner = dv.Identity(owner)
	if uploadedAt != nil {
		slot.UploadedAt = *uploadedAt
	}
	return slot, nil
}

func (p *PostgresLedger) AppendFile(ctx context.Context, caller dv.Identity, vaultID uint64, entry dv.FileEntry) (uint64, error) {
	if entry.CID == "" {
		return 0, dv.NewLedgerError(OpAppendFile, dv.ErrInvalidInput, errEmptyCID)
	}

	var index uint64
	err := p.inTx(ctx, OpAppendFile, func(tx pgx.Tx) error {
		v, err := p.vault(ctx, tx, OpAppendFile, vaultID, true)
		if err != nil {
			return err
		}
		if !v.CanAppend(caller) {
			return dv.NewLedgerError(OpAppendFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is private to %s", vaultID, v.Owner))
		}
		var n int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM file_slots WHERE vault_id = $1`, int64(vaultID)).Scan(&n); err != nil {
			return err
		}
		index = uint64(n)
		_, err = tx.Exec(ctx, `
			INSERT INTO file_slots (vault_id, slot_index, cid, name, size_bytes, extension, uploaded_at, owner)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			int64(vaultID), n, entry.CID, entry.Name, entry.SizeBytes, entry.Extension,
			p.clock.Now().UTC(), string(caller),
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

func (p *PostgresLedger) DeleteFile(ctx context.Context, caller dv.Identity, vaultID uint64, index uint64) error {
	return p.inTx(ctx, OpDeleteFile, func(tx pgx.Tx) error {
		v, err := p.vault(ctx, tx, OpDeleteFile, vaultID, true)
		if err != nil {
			return err
		}
		if !v.Owner.Matches(caller) {
			return dv.NewLedgerError(OpDeleteFile, dv.ErrUnauthorized, fmt.Errorf("vault %d is owned by %s", vaultID, v.Owner))
		}
		if err := slotOutOfRange(OpDeleteFile, vaultID, index); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE file_slots
			SET cid = '', name = '', size_bytes = 0, extension = '', uploaded_at = NULL, owner = ''
			WHERE vault_id = $1 AND slot_index = $2`, int64(vaultID), int64(index))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return dv.NewLedgerError(OpDeleteFile, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
		}
		return nil
	})
}

func (p *PostgresLedger) Close() error {
	err := p.db.Close()
	p.pool.Close()
	return err
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// vault loads a live vault row, failing NotFound or Tombstoned.
// With lock set the row is locked until the surrounding transaction ends.
func (p *PostgresLedger) vault(ctx context.Context, q pgQueryRower, op string, id uint64, lock bool) (*dv.VaultRecord, error) {
	query := `
		SELECT id, owner, name, description, size_hint, encryption_level,
		       file_count_seed, storage_limit_gb, access_type, last_accessed, deleted
		FROM vaults WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		v       dv.VaultRecord
		rowID   int64
		owner   string
		access  string
		deleted bool
	)
	if err := vaultOutOfRange(op, id); err != nil {
		return nil, err
	}
	err := q.QueryRow(ctx, query, int64(id)).Scan(&rowID, &owner, &v.Name, &v.Description, &v.SizeHint,
		&v.EncryptionLevel, &v.FileCountSeed, &v.StorageLimitGB, &access, &v.LastAccessed, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dv.NewLedgerError(op, dv.ErrNotFound, fmt.Errorf("vault %d", id))
	}
	if err != nil {
		return nil, backendError(op, err)
	}
	if deleted {
		return nil, dv.NewLedgerError(op, dv.ErrTombstoned, fmt.Errorf("vault %d", id))
	}
	v.ID = uint64(rowID)
	v.Owner = dv.Identity(owner)
	v.AccessType = dv.AccessType(access)
	return &v, nil
}

func (p *PostgresLedger) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, p.pool, fn)
	if err != nil {
		return backendError(op, err)
	}
	return nil
}
