// Package ledger provides dv.Ledger backends: an in-memory ledger, SQL
// ledgers on SQLite and PostgreSQL, and a CBOR event log.
package ledger

import (
	"errors"
	"fmt"
	"math"

	"dvault/internal/dv"
)

// Operation names carried in dv.LedgerError.Op.
const (
	OpCreateVault = "createVault"
	OpVaultCount  = "getVaultCount"
	OpGetVault    = "getVault"
	OpDeleteVault = "deleteVault"
	OpFileCount   = "getFileCount"
	OpGetFile     = "getFile"
	OpAppendFile  = "appendFile"
	OpDeleteFile  = "deleteFile"
)

var (
	errEmptyCaller = errors.New("caller identity is empty")
	errEmptyCID    = errors.New("content address is empty")
)

// blankSlot is what a deleted slot reads as: every field zeroed except its position.
func blankSlot(vaultID, index uint64) dv.FileSlot {
	return dv.FileSlot{VaultID: vaultID, Index: index}
}

// backendError maps a storage failure to a LedgerError. Errors that already
// carry a kind pass through unchanged; anything else is a backend failure.
func backendError(op string, err error) error {
	var le *dv.LedgerError
	if errors.As(err, &le) {
		return err
	}
	return dv.NewLedgerError(op, dv.ErrUnavailable, err)
}

// vaultOutOfRange and slotOutOfRange report NotFound for ids the SQL
// backends cannot store. No such id can have been assigned.
func vaultOutOfRange(op string, id uint64) error {
	if id <= math.MaxInt64 {
		return nil
	}
	return dv.NewLedgerError(op, dv.ErrNotFound, fmt.Errorf("vault %d", id))
}

func slotOutOfRange(op string, vaultID, index uint64) error {
	if index <= math.MaxInt64 {
		return nil
	}
	return dv.NewLedgerError(op, dv.ErrNotFound, fmt.Errorf("slot %d of vault %d", index, vaultID))
}
