package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dvault/internal/dv"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage files in a vault",
}

var fileListCmd = &cobra.Command{
	Use:   "list VAULT",
	Short: "List the active files of a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}

		sortFlag, _ := cmd.Flags().GetString("sort")
		order, ok := dv.ParseSortOrder(sortFlag)
		if !ok {
			return fmt.Errorf("unknown sort order %q (want slot, name, date or size)", sortFlag)
		}
		var typ dv.FileType
		if typeFlag, _ := cmd.Flags().GetString("type"); typeFlag != "" {
			if typ, ok = dv.ParseFileType(typeFlag); !ok {
				return fmt.Errorf("unknown file type %q (want one of %s)", typeFlag, fileTypeNames())
			}
		}
		search, _ := cmd.Flags().GetString("search")

		a, err := newApp(cmd, "ListFiles")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		view, err := a.Files(cmd.Context(), vaultID)
		if err != nil {
			return err
		}

		files := dv.SortFiles(dv.FilterFiles(view.Files, search, typ), order)
		if len(files) == 0 && !view.Coverage.Partial() {
			fmt.Println("No files.")
		} else {
			t := stdoutTable("SLOT", "NAME", "TYPE", "SIZE", "UPLOADED", "CID")
			for _, f := range files {
				t.row(f.Index, f.Name, f.Type, f.SizeLabel, ago(f.UploadedAt), f.CID)
			}
			t.flush()
		}

		fmt.Fprintf(os.Stderr, "%d active file(s), %s\n", view.Stats.ActiveCount, dv.SizeLabel(view.Stats.UsedBytes))
		warnCoverage(os.Stderr, "file slots", view.Coverage)
		return nil
	},
}

var fileUploadCmd = &cobra.Command{
	Use:   "upload VAULT PATH...",
	Short: "Upload files into a vault",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UploadFile")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		for _, path := range args[1:] {
			res, err := a.UploadFile(cmd.Context(), vaultID, path)
			if err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}
			fmt.Printf("Uploaded %s to slot %d (%s, %s)\n", path, res.SlotIndex, dv.SizeLabel(res.Size), res.CID)
			if res.View == nil {
				fmt.Fprintln(os.Stderr, "warning: upload recorded, but the vault could not be re-read")
			}
		}
		return nil
	},
}

var fileDownloadCmd = &cobra.Command{
	Use:   "download VAULT SLOT [DEST]",
	Short: "Download an active file",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}
		slot, err := parseID("slot", args[1])
		if err != nil {
			return err
		}
		dest := "."
		if len(args) == 3 {
			dest = args[2]
		}

		a, err := newApp(cmd, "DownloadFile")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		path, err := a.DownloadFile(cmd.Context(), vaultID, slot, dest)
		if err != nil {
			return err
		}
		fmt.Printf("Downloaded to %s\n", path)
		return nil
	},
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete VAULT SLOT",
	Short: "Delete a file from a vault you own",
	Long: "Delete a file from a vault you own.\n\n" +
		"The slot is blanked on the ledger. Content already stored stays in the\n" +
		"content store and may remain reachable through its URL.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}
		slot, err := parseID("slot", args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DeleteFile")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		view, err := a.DeleteFile(cmd.Context(), vaultID, slot)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted slot %d of vault %d\n", slot, vaultID)
		if view != nil {
			fmt.Printf("%d active file(s) remain, %s used\n", view.Stats.ActiveCount, dv.SizeLabel(view.Stats.UsedBytes))
		}
		return nil
	},
}

var fileURLCmd = &cobra.Command{
	Use:   "url VAULT SLOT",
	Short: "Print the public gateway URL of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultID, err := parseID("vault id", args[0])
		if err != nil {
			return err
		}
		slot, err := parseID("slot", args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "FileURL")
		if err != nil {
			return err
		}
		defer closeApp(cmd, a)

		url, err := a.FileURL(cmd.Context(), vaultID, slot)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

func fileTypeNames() string {
	names := make([]string, len(dv.FileTypes))
	for i, t := range dv.FileTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func init() {
	fileCmd.AddCommand(fileListCmd)
	fileListCmd.Flags().String("sort", string(dv.SortBySlot), "Sort by slot, name, date or size")
	fileListCmd.Flags().StringP("search", "s", "", "Only show files whose name contains this text")
	fileListCmd.Flags().StringP("type", "t", "", "Only show files of this type")

	fileCmd.AddCommand(fileUploadCmd)
	fileCmd.AddCommand(fileDownloadCmd)
	fileCmd.AddCommand(fileDeleteCmd)
	fileCmd.AddCommand(fileURLCmd)
}
