package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsProject string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory class counts for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		project := statsProject
		if project == "" {
			project = os.Getenv("MNEMO_PROJECT")
		}
		if project == "" {
			return fmt.Errorf("no project: pass --project or set MNEMO_PROJECT")
		}
		if _, err := st.GetProject(cmd.Context(), project); err != nil {
			return err
		}
		st.SetProject(project)

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("project %s\n", project)
		fmt.Printf("  insights:          %d (%d deleted)\n", stats.Insights, stats.DeletedInsights)
		fmt.Printf("  episodes:          %d\n", stats.Episodes)
		fmt.Printf("  working entries:   %d\n", stats.WorkingEntries)
		fmt.Printf("  raw entries:       %d\n", stats.RawEntries)
		fmt.Printf("  graph:             %d nodes, %d edges\n", stats.Nodes, stats.Edges)
		fmt.Printf("  feedback events:   %d\n", stats.FeedbackEvents)
		fmt.Printf("  pending proposals: %d\n", stats.PendingProposals)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsProject, "project", "", "project to report on (default MNEMO_PROJECT)")
}
