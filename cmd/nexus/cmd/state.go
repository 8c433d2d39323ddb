package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and manage persisted project state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Print a project's full state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		st, err := a.states.LoadState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("no state for project %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project's state, features, and tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.states.DeleteState(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted state for project %s\n", args[0])
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateDeleteCmd)
	rootCmd.AddCommand(stateCmd)
}
