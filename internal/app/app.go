package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dvault/internal/config"
	"dvault/internal/contentstore"
	"dvault/internal/dv"
	"dvault/internal/ledger"
	"dvault/internal/ledger/migrations"
	"dvault/internal/metrics"
	"dvault/internal/retry"
)

// App is the application layer between the CLI and the sync engine.
// It constructs all dependencies from config, acts on behalf of the
// configured identity, retries idempotent calls, and releases the ledger
// on Close.
type App struct {
	cfg     *config.Config
	caller  dv.Identity
	ledger  dv.Ledger
	store   dv.ContentStore
	engine  *dv.Engine
	metrics *metrics.Metrics
	retry   retry.Strategy
	clock   dv.Clock
	logger  dv.Logger
	op      *Operation
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "UploadFile", "MyVaults").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	cfg.ApplyDefaults()

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	clock := dv.RealClock{}
	op := NewOperation(operation, "", clock.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	l, err := ledger.NewLedgerFromConfig(ctx, cfg.Ledger, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	store, err := contentstore.NewContentStoreFromConfig(ctx, cfg.ContentStore, clock)
	if err != nil {
		l.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	a, err := newApp(cfg, l, store, logger, clock, op)
	if err != nil {
		l.Close()
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// newApp assembles an App around already constructed backends.
func newApp(cfg *config.Config, l dv.Ledger, store dv.ContentStore, logger dv.Logger, clock dv.Clock, op *Operation) (*App, error) {
	m := metrics.New()
	engine, err := dv.NewEngine(l, store, logger, m, clock, dv.EngineOptions{
		CallTimeout:         cfg.Sync.CallTimeout.Duration,
		EnforceStorageLimit: cfg.Sync.EnforceStorageLimit,
		CacheSize:           cfg.Sync.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	strategy := retry.NewStrategy(retry.Config{
		Enabled:      cfg.Retry.Enabled,
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay.Duration,
		MaxDelay:     cfg.Retry.MaxDelay.Duration,
	}, logger)

	logger.Debug("operation started", "operation", op.Name, "ledger", cfg.Ledger.Type, "content_store", cfg.ContentStore.Type)

	return &App{
		cfg:     cfg,
		caller:  dv.Identity(cfg.Identity),
		ledger:  l,
		store:   store,
		engine:  engine,
		metrics: m,
		retry:   strategy,
		clock:   clock,
		logger:  logger,
		op:      op,
	}, nil
}

// withRetry runs fn under the app's retry strategy and returns its last result.
func withRetry[T any](ctx context.Context, s retry.Strategy, fn func() (T, error)) (T, error) {
	var out T
	err := s.Execute(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Identity returns the account the app acts as.
func (a *App) Identity() dv.Identity {
	return a.caller
}

func (a *App) requireIdentity() error {
	if a.caller == "" {
		return fmt.Errorf("no identity configured (set identity in the config, DVAULT_IDENTITY or --as): %w", dv.ErrInvalidInput)
	}
	return nil
}

// LedgerStatus is reported by CheckLedger.
// Schema is nil for backends that have no SQL schema.
type LedgerStatus struct {
	Type      string
	StoreType string
	Vaults    uint64
	Schema    *migrations.Status
}

// CheckLedger verifies the ledger is reachable and, for SQL backends, that
// its schema is at the latest migration. Content stores with local state
// have their setup validated first.
func (a *App) CheckLedger(ctx context.Context) (*LedgerStatus, error) {
	status := &LedgerStatus{Type: a.cfg.Ledger.Type, StoreType: a.cfg.ContentStore.Type}

	if v, ok := a.store.(interface{ ValidateSetup() error }); ok {
		if err := v.ValidateSetup(); err != nil {
			return status, a.op.Fail(fmt.Errorf("checking content store: %w", err))
		}
	}

	if dialect, ok := schemaDialect(a.cfg.Ledger.Type); ok {
		if withDB, ok := a.ledger.(interface{ DB() *sql.DB }); ok {
			st, err := migrations.Inspect(withDB.DB(), dialect)
			if err != nil {
				return nil, a.op.Fail(fmt.Errorf("inspecting ledger schema: %w", err))
			}
			status.Schema = &st
			if !st.Current() {
				return status, a.op.Fail(fmt.Errorf("ledger schema at version %d (dirty=%v), latest is %d", st.Version, st.Dirty, st.Latest))
			}
		}
	}

	count, err := withRetry(ctx, a.retry, func() (uint64, error) {
		callCtx, cancel := a.callContext(ctx)
		defer cancel()
		return a.ledger.VaultCount(callCtx)
	})
	if err != nil {
		return status, a.op.Fail(fmt.Errorf("reading vault count: %w", err))
	}
	status.Vaults = count
	return status, nil
}

func schemaDialect(ledgerType string) (migrations.Dialect, bool) {
	switch ledgerType {
	case "sqlite":
		return migrations.SQLite, true
	case "postgres":
		return migrations.Postgres, true
	default:
		return "", false
	}
}

func (a *App) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := a.cfg.Sync.CallTimeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// CreateVault creates a vault owned by the app's identity.
// It is never retried: a create that timed out may still have been recorded.
func (a *App) CreateVault(ctx context.Context, spec dv.VaultSpec) (uint64, error) {
	if err := a.requireIdentity(); err != nil {
		return 0, a.op.Fail(err)
	}
	a.op.Parameters = "name=" + spec.Name
	id, err := a.engine.CreateVault(ctx, a.caller, spec)
	return id, a.op.Fail(err)
}

// MyVaults lists the live vaults owned by the app's identity.
func (a *App) MyVaults(ctx context.Context) (*dv.VaultList, error) {
	if err := a.requireIdentity(); err != nil {
		return nil, a.op.Fail(err)
	}
	list, err := withRetry(ctx, a.retry, func() (*dv.VaultList, error) {
		return a.engine.MyVaults(ctx, a.caller)
	})
	return list, a.op.Fail(err)
}

// Vault returns a single vault visible to the app's identity.
func (a *App) Vault(ctx context.Context, id uint64) (*dv.VaultRecord, error) {
	v, err := withRetry(ctx, a.retry, func() (*dv.VaultRecord, error) {
		return a.engine.Vault(ctx, a.caller, id)
	})
	return v, a.op.Fail(err)
}

// Files reconciles a vault's files.
func (a *App) Files(ctx context.Context, vaultID uint64) (*dv.FileView, error) {
	a.op.Parameters = fmt.Sprintf("vault=%d", vaultID)
	view, err := withRetry(ctx, a.retry, func() (*dv.FileView, error) {
		return a.engine.Files(ctx, vaultID)
	})
	return view, a.op.Fail(err)
}

// Dashboard aggregates every vault owned by the app's identity.
func (a *App) Dashboard(ctx context.Context) (*dv.Dashboard, error) {
	if err := a.requireIdentity(); err != nil {
		return nil, a.op.Fail(err)
	}
	d, err := withRetry(ctx, a.retry, func() (*dv.Dashboard, error) {
		return a.engine.Dashboard(ctx, a.caller)
	})
	return d, a.op.Fail(err)
}

// UploadFile uploads the file at rawPath into a vault under its base name.
// It is never retried: each attempt would append a new slot.
func (a *App) UploadFile(ctx context.Context, vaultID uint64, rawPath string) (*dv.UploadResult, error) {
	if err := a.requireIdentity(); err != nil {
		return nil, a.op.Fail(err)
	}
	a.op.Parameters = fmt.Sprintf("vault=%d path=%s", vaultID, rawPath)

	f, err := os.Open(rawPath)
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("opening %s: %w", rawPath, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("stat %s: %w", rawPath, err))
	}
	if info.IsDir() {
		return nil, a.op.Fail(fmt.Errorf("%s is a directory: %w", rawPath, dv.ErrInvalidInput))
	}

	res, err := a.engine.UploadFile(ctx, a.caller, vaultID, f, info.Size(), filepath.Base(rawPath))
	return res, a.op.Fail(err)
}

// DownloadFile writes an active file's content to dest and returns the path
// written. If dest is an existing directory the file keeps its ledger name.
// The file appears at its final path only once fully written.
func (a *App) DownloadFile(ctx context.Context, vaultID uint64, slot uint64, dest string) (string, error) {
	a.op.Parameters = fmt.Sprintf("vault=%d slot=%d", vaultID, slot)

	dl, err := withRetry(ctx, a.retry, func() (*dv.Download, error) {
		return a.engine.DownloadFile(ctx, vaultID, slot)
	})
	if err != nil {
		return "", a.op.Fail(err)
	}
	defer dl.Body.Close()

	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(dl.File.Name))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".dvault-download-*")
	if err != nil {
		return "", a.op.Fail(fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, dl.Body)
	if err == nil && n != dl.File.SizeBytes {
		err = fmt.Errorf("size mismatch: ledger records %d bytes, content has %d", dl.File.SizeBytes, n)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", a.op.Fail(fmt.Errorf("downloading slot %d of vault %d: %w", slot, vaultID, err))
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", a.op.Fail(fmt.Errorf("moving download into place: %w", err))
	}

	a.logger.Info("file downloaded", "vault", vaultID, "slot", slot, "path", dest, "size", n)
	return dest, nil
}

// FileURL returns the public gateway URL of an active file.
func (a *App) FileURL(ctx context.Context, vaultID uint64, slot uint64) (string, error) {
	url, err := withRetry(ctx, a.retry, func() (string, error) {
		return a.engine.FileURL(ctx, vaultID, slot)
	})
	return url, a.op.Fail(err)
}

// DeleteFile tombstones a slot. Repeating it is harmless, so it is retried.
func (a *App) DeleteFile(ctx context.Context, vaultID uint64, slot uint64) (*dv.FileView, error) {
	if err := a.requireIdentity(); err != nil {
		return nil, a.op.Fail(err)
	}
	a.op.Parameters = fmt.Sprintf("vault=%d slot=%d", vaultID, slot)
	view, err := withRetry(ctx, a.retry, func() (*dv.FileView, error) {
		return a.engine.DeleteFile(ctx, a.caller, vaultID, slot)
	})
	return view, a.op.Fail(err)
}

// DeleteVault tombstones a vault owned by the app's identity.
func (a *App) DeleteVault(ctx context.Context, vaultID uint64) error {
	if err := a.requireIdentity(); err != nil {
		return a.op.Fail(err)
	}
	a.op.Parameters = fmt.Sprintf("vault=%d", vaultID)
	attempt := 0
	_, err := withRetry(ctx, a.retry, func() (struct{}, error) {
		attempt++
		err := a.engine.DeleteVault(ctx, a.caller, vaultID)
		if attempt > 1 && errors.Is(err, dv.ErrTombstoned) {
			// An earlier attempt landed but its reply was lost.
			a.logger.Info("vault already tombstoned by an earlier attempt", "vault", vaultID, "attempt", attempt)
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return a.op.Fail(err)
}

// WriteMetrics writes the metrics gathered so far to a node_exporter textfile.
func (a *App) WriteMetrics(path string) error {
	return a.metrics.WriteToTextfile(path)
}

// Close logs the outcome of the operation and releases the ledger and log file.
func (a *App) Close() error {
	var firstErr error

	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"elapsed", a.clock.Now().Sub(a.op.StartedAt).Truncate(time.Millisecond),
	)

	if err := a.ledger.Close(); err != nil {
		firstErr = fmt.Errorf("closing ledger: %w", err)
	}

	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}

	return firstErr
}
