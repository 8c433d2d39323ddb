package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-orchestrator/nexus/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:     "memory",
	Aliases: []string{"mem"},
	Short:   "Search and prune episodic memory",
}

var (
	memoryProject string
	memoryLimit   int
)

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find episodes similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.memories.Search(cmd.Context(), args[0], memory.SearchOptions{
			ProjectID: memoryProject,
			Limit:     memoryLimit,
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matching episodes.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tTYPE\tPROJECT\tSUMMARY")
		for _, r := range results {
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Score, r.Type, r.ProjectID, r.Summary)
		}
		return w.Flush()
	},
}

var (
	pruneKeep   int
	pruneMaxAge string
)

var memoryPruneCmd = &cobra.Command{
	Use:   "prune <project-id>",
	Short: "Prune old or excess episodes",
	Long: `Prune episodes by age, count, or both. With --max-age, episodes older
than the given duration are deleted, except high-importance episodes
which are retained twice as long. With --keep, only the most important
episodes are retained up to the given count.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneMaxAge == "" && pruneKeep < 0 {
			return fmt.Errorf("nothing to do: pass --max-age and/or --keep")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		total := 0
		if pruneMaxAge != "" {
			maxAge, err := time.ParseDuration(pruneMaxAge)
			if err != nil {
				return fmt.Errorf("parsing --max-age: %w", err)
			}
			n, err := a.memories.PruneOldEpisodes(cmd.Context(), args[0], maxAge)
			if err != nil {
				return err
			}
			total += n
		}
		if pruneKeep >= 0 {
			n, err := a.memories.PruneByCount(cmd.Context(), args[0], pruneKeep)
			if err != nil {
				return err
			}
			total += n
		}

		fmt.Printf("Pruned %d episode(s)\n", total)
		return nil
	},
}

func init() {
	memorySearchCmd.Flags().StringVar(&memoryProject, "project", "", "limit search to a project")
	memorySearchCmd.Flags().IntVar(&memoryLimit, "limit", 0, "maximum results (default 10)")

	memoryPruneCmd.Flags().StringVar(&pruneMaxAge, "max-age", "", "delete episodes older than this duration (e.g. 720h)")
	memoryPruneCmd.Flags().IntVar(&pruneKeep, "keep", -1, "keep only the most important N episodes")

	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryPruneCmd)
	rootCmd.AddCommand(memoryCmd)
}
