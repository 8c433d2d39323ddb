package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-orchestrator/nexus/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an annotated starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ".nexus.yaml"
		if len(args) > 0 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.WriteFile(path, []byte(config.DefaultConfigYAML), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
