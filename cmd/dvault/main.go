package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"dvault/internal/app"
	"dvault/internal/config"
	"dvault/internal/dv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if hint := kindHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment and --as overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if as, _ := cmd.Flags().GetString("as"); as != "" {
		cfg.Identity = as
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an App. The caller must defer closeApp.
// operation identifies the CLI command being run (e.g. "UploadFile", "MyVaults").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp writes the metrics textfile when --metrics-file is set, then closes a.
func closeApp(cmd *cobra.Command, a *app.App) {
	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := a.WriteMetrics(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func parseID(what, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", what, s)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:          "dvault",
	Short:        "Content-addressed vaults over an append-only ledger",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		identity, _ := cmd.Flags().GetString("identity")
		if identity == "" {
			identity = os.Getenv("DVAULT_IDENTITY")
		}

		cfg := config.NewConfig(identity, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		if identity == "" {
			fmt.Println("Identity: (none; set identity, DVAULT_IDENTITY or pass --as)")
		} else {
			fmt.Printf("Identity: %s\n", identity)
		}
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.ApplyDefaults()

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Identity:      %s\n", cfg.Identity)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Log Level:     %s\n", cfg.LogLevel)
		fmt.Printf("Ledger:        %s %s\n", cfg.Ledger.Type, cfg.Ledger.Path)
		fmt.Printf("Content Store: %s\n", cfg.ContentStore.Type)
		fmt.Printf("Call Timeout:  %s\n", cfg.Sync.CallTimeout)
		fmt.Printf("Limits:        enforced=%v\n", cfg.Sync.EnforceStorageLimit)
		fmt.Printf("Retry:         enabled=%v max=%d\n", cfg.Retry.Enabled, cfg.Retry.MaxRetries)
		return nil
	},
}

// ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the ledger backend",
}

var ledgerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the ledger is reachable, its schema current and the content store usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CheckLedger")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		st, err := a.CheckLedger(cmd.Context())
		if st != nil {
			fmt.Printf("Ledger:  %s\n", st.Type)
			fmt.Printf("Store:   %s\n", st.StoreType)
			if st.Schema != nil {
				fmt.Printf("Schema:  version %d of %d (dirty=%v)\n", st.Schema.Version, st.Schema.Latest, st.Schema.Dirty)
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("Vaults:  %d ids assigned\n", st.Vaults)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("as", "", "Act as this identity instead of the configured one")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write prometheus metrics to this textfile on exit")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("identity", "", "Account address to act as")

	ledgerCmd.AddCommand(ledgerCheckCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(fileCmd)
}

// kindHint maps a failure kind to a short hint for the user, or "".
func kindHint(err error) string {
	switch dv.KindOf(err) {
	case dv.ErrUnauthorized:
		return "only the vault owner can do this"
	case dv.ErrTombstoned:
		return "the vault has been deleted"
	case dv.ErrUnavailable:
		return "the ledger or content store could not be reached; try again"
	case dv.ErrStorageLimitExceeded:
		return "the vault is full"
	default:
		return ""
	}
}
