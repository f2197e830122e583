package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dvault/internal/dv"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a vault owned by your identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		limitGB, _ := cmd.Flags().GetInt64("limit-gb")
		encryption, _ := cmd.Flags().GetString("encryption")
		shared, _ := cmd.Flags().GetBool("shared")

		access := dv.AccessPrivate
		if shared {
			access = dv.AccessShared
		}

		a, err := newApp(cmd, "CreateVault")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		id, err := a.CreateVault(cmd.Context(), dv.VaultSpec{
			Name:            args[0],
			Description:     description,
			EncryptionLevel: encryption,
			StorageLimitGB:  limitGB,
			AccessType:      access,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created vault %d (%s)\n", id, args[0])
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your vaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "MyVaults")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		list, err := a.MyVaults(cmd.Context())
		if err != nil {
			return err
		}

		if len(list.Vaults) == 0 && !list.Coverage.Partial() {
			fmt.Println("No vaults.")
			return nil
		}

		t := stdoutTable("ID", "NAME", "ACCESS", "LIMIT", "LAST ACCESSED")
		for i := range list.Vaults {
			v := &list.Vaults[i]
			t.row(v.ID, v.Name, v.AccessType, limitLabel(v), ago(v.LastAccessed))
		}
		t.flush()
		warnCoverage(os.Stderr, "vaults", list.Coverage)
		return nil
	},
}

var vaultShowCmd = &cobra.Command{
	Use:   "show VAULT",
	Short: "Show a vault and its usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "ShowVault")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		v, err := a.Vault(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("Vault %d: %s\n", v.ID, v.Name)
		if v.Description != "" {
			fmt.Printf("  %s\n", v.Description)
		}
		fmt.Printf("Owner:       %s\n", v.Owner)
		fmt.Printf("Access:      %s\n", v.AccessType)
		fmt.Printf("Encryption:  %s\n", v.EncryptionLevel)
		fmt.Printf("Accessed:    %s\n", ago(v.LastAccessed))

		view, err := a.Files(cmd.Context(), id)
		if err != nil {
			fmt.Printf("Usage:       unavailable (%v)\n", err)
			return nil
		}
		fmt.Printf("Files:       %d active of %d slots\n", view.Stats.ActiveCount, view.SlotCount)
		fmt.Printf("Usage:       %s\n", usageLabel(view.Stats.UsedBytes, v))
		warnCoverage(os.Stderr, "file slots", view.Coverage)
		return nil
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete VAULT",
	Short: "Delete a vault you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DeleteVault")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		if err := a.DeleteVault(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted vault %d\n", id)
		return nil
	},
}

var vaultDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Summarize usage across your vaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Dashboard")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		d, err := a.Dashboard(cmd.Context())
		if err != nil {
			return err
		}

		t := stdoutTable("ID", "NAME", "FILES", "USAGE")
		for i := range d.Vaults {
			s := &d.Vaults[i]
			if s.Err != nil {
				t.row(s.Vault.ID, s.Vault.Name, "?", "unavailable: "+dv.KindName(s.Err))
				continue
			}
			t.row(s.Vault.ID, s.Vault.Name, s.Stats.ActiveCount, usageLabel(s.Stats.UsedBytes, &s.Vault))
		}
		t.flush()

		fmt.Printf("\n%d vault(s), %d file(s), %s used", len(d.Vaults), d.TotalFiles, dv.SizeLabel(d.TotalUsed))
		if d.TotalLimit > 0 {
			fmt.Printf(" of %s", dv.SizeLabel(d.TotalLimit))
		}
		fmt.Println()

		warnCoverage(os.Stderr, "vaults", d.VaultCoverage)
		if n := d.Failed(); n > 0 {
			fmt.Fprintf(os.Stderr, "warning: %d vault(s) could not be reconciled; totals exclude them\n", n)
		}
		return nil
	},
}

func init() {
	vaultCmd.AddCommand(vaultCreateCmd)
	vaultCreateCmd.Flags().StringP("description", "d", "", "Vault description")
	vaultCreateCmd.Flags().Int64("limit-gb", dv.DefaultStorageLimitGB, "Storage limit in GiB")
	vaultCreateCmd.Flags().String("encryption", dv.DefaultEncryptionLevel, "Encryption level label")
	vaultCreateCmd.Flags().Bool("shared", false, "Let anyone append files to the vault")

	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultShowCmd)
	vaultCmd.AddCommand(vaultDeleteCmd)
	vaultCmd.AddCommand(vaultDashboardCmd)
}
