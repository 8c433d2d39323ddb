package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "nexus %s\n", orDev(appVersion))
		fmt.Fprintf(out, "  commit:  %s\n", orDev(appCommit))
		fmt.Fprintf(out, "  built:   %s\n", orDev(appDate))
		fmt.Fprintf(out, "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func orDev(s string) string {
	if s == "" {
		return "dev"
	}
	return s
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
