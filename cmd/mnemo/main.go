// mnemo is a project-scoped cognitive memory service over Postgres and
// pgvector. It serves memory tools over the Model Context Protocol and
// ships admin commands for migrations, projects, and the row-level
// isolation rollout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemo/internal/config"
	"mnemo/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "mnemo - cognitive memory server over Postgres + pgvector",
	Long: `mnemo stores layered agent memory (insights, episodes, a knowledge
graph, working and raw memory) in Postgres with pgvector, and serves it
to any MCP client. Every row belongs to a project; row-level security
isolates projects through a staged pending/shadow/enforcing rollout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = os.Getenv("MNEMO_CONFIG")
		}
		if path == "" {
			path = "mnemo.yaml"
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to mnemo.yaml (default ./mnemo.yaml, or MNEMO_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rlsCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// requireDatabase validates the parts of the configuration every
// database-touching command needs.
func requireDatabase() error {
	return cfg.Validate()
}
