package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-orchestrator/nexus/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"cp"},
	Short:   "Create, restore, and manage project checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's checkpoints, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		list, err := a.checkpoints.ListCheckpoints(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No checkpoints.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tREASON\tCOMMIT\tCREATED")
		for _, cp := range list {
			commit := cp.GitCommit
			if len(commit) > 8 {
				commit = commit[:8]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				cp.ID, cp.Name, cp.Reason, commit,
				cp.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var checkpointName string

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <project-id> [reason]",
	Short: "Capture the project's current state",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		reason := "manual"
		if len(args) > 1 {
			reason = args[1]
		}

		mgr, err := a.checkpointManagerFor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cp, err := mgr.CreateCheckpoint(cmd.Context(), args[0], checkpointName, reason)
		if err != nil {
			return err
		}
		fmt.Printf("Created checkpoint %s\n", cp.ID)
		return nil
	},
}

var restoreGit bool

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <project-id> <checkpoint-id>",
	Short: "Overwrite the project's state from a checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		mgr, err := a.checkpointManagerFor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		st, err := mgr.RestoreCheckpoint(cmd.Context(), args[1], checkpoint.RestoreOptions{
			CheckoutGit: restoreGit || cfg.Checkpoint.RestoreGit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Restored project %s to checkpoint %s (%d features, %d tasks)\n",
			st.ProjectID, args[1], len(st.Features), len(st.Tasks))
		return nil
	},
}

var checkpointPruneCmd = &cobra.Command{
	Use:   "prune <project-id>",
	Short: "Delete checkpoints beyond the retention limit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.checkpoints.PruneOldCheckpoints(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d checkpoint(s)\n", n)
		return nil
	},
}

var checkpointExportCmd = &cobra.Command{
	Use:   "export <checkpoint-id> <file>",
	Short: "Write a checkpoint to a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.checkpoints.ExportCheckpoint(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Exported checkpoint %s to %s\n", args[0], args[1])
		return nil
	},
}

var checkpointImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a checkpoint from an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		cp, err := a.checkpoints.ImportCheckpoint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Imported checkpoint %s for project %s\n", cp.ID, cp.ProjectID)
		return nil
	},
}

func init() {
	checkpointCreateCmd.Flags().StringVar(&checkpointName, "name", "", "checkpoint name")
	checkpointRestoreCmd.Flags().BoolVar(&restoreGit, "git", false,
		"also check out the checkpoint's recorded commit")

	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointPruneCmd)
	checkpointCmd.AddCommand(checkpointExportCmd)
	checkpointCmd.AddCommand(checkpointImportCmd)
	rootCmd.AddCommand(checkpointCmd)
}
