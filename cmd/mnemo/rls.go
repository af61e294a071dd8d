package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemo/internal/store"
	"mnemo/internal/types"
)

var rlsAuditLimit int

var rlsCmd = &cobra.Command{
	Use:   "rls",
	Short: "Manage the row-level isolation rollout",
}

var rlsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the rollout phase of every project",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		ids, err := st.ListProjectIDs(cmd.Context())
		if err != nil {
			return err
		}
		statuses, err := st.Statuses(cmd.Context(), ids)
		if err != nil {
			return err
		}

		byProject := make(map[string]types.RLSPhase, len(statuses))
		for _, s := range statuses {
			byProject[s.ProjectID] = s.Phase
		}

		fmt.Printf("%-24s %s\n", "PROJECT", "PHASE")
		for _, id := range ids {
			phase, ok := byProject[id]
			if !ok {
				phase = types.RLSPhase(cfg.Access.DefaultPhase)
			}
			fmt.Printf("%-24s %s\n", id, phase)
		}
		return nil
	},
}

var rlsSetPhaseCmd = &cobra.Command{
	Use:   "set-phase <project> <phase>",
	Short: "Move a project to pending, shadow, or enforcing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := types.RLSPhase(args[1])
		if !phase.Valid() {
			return fmt.Errorf("invalid phase %q (pending, shadow, enforcing)", args[1])
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetPhase(cmd.Context(), args[0], phase); err != nil {
			return err
		}
		logger.Info("rollout phase set",
			zap.String("project_id", args[0]),
			zap.String("phase", string(phase)))
		fmt.Printf("project %s -> %s\n", args[0], phase)
		return nil
	},
}

var rlsAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show shadow-mode would-be violations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListAudit(cmd.Context(), rlsAuditLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no shadow-mode violations recorded")
			return nil
		}

		fmt.Printf("%-6s %-28s %-20s %-18s %s\n", "ID", "OCCURRED", "PROJECT", "TABLE", "BLOCKED")
		for _, e := range entries {
			fmt.Printf("%-6d %-28s %-20s %-18s %d\n",
				e.ID, e.OccurredAt, e.CurrentProject, e.TableName, e.BlockedRows)
		}
		return nil
	},
}

func init() {
	rlsAuditCmd.Flags().IntVar(&rlsAuditLimit, "limit", 50, "max entries to show")

	rlsCmd.AddCommand(rlsStatusCmd)
	rlsCmd.AddCommand(rlsSetPhaseCmd)
	rlsCmd.AddCommand(rlsAuditCmd)
}

// openStore validates config and connects. Callers must Close.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	if err := requireDatabase(); err != nil {
		return nil, err
	}
	return store.New(cmd.Context(), cfg, logger)
}
