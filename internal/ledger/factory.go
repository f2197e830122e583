package ledger

import (
	"context"
	"fmt"

	"dvault/internal/config"
	"dvault/internal/dv"
)

// NewLedgerFromConfig creates a Ledger implementation based on the ledger config type.
func NewLedgerFromConfig(ctx context.Context, cfg config.LedgerConfig, clock dv.Clock) (dv.Ledger, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryLedger(clock), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		l, err := NewSQLiteLedger(path, clock)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database_url required for postgres ledger")
		}
		l, err := NewPostgresLedger(ctx, cfg.DatabaseURL, clock)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "logfile":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for logfile ledger")
		}
		l, err := NewLogFileLedger(cfg.Path, clock)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}
