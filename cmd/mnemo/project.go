package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mnemo/internal/types"
)

var (
	projectName  string
	projectLevel string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects and cross-project read grants",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level := types.AccessLevel(projectLevel)
		if !level.Valid() {
			return fmt.Errorf("invalid access level %q (super, shared, isolated)", projectLevel)
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		name := projectName
		if name == "" {
			name = args[0]
		}
		p, err := st.CreateProject(cmd.Context(), args[0], name, level)
		if err != nil {
			return err
		}
		fmt.Printf("created project %s (%s, %s)\n", p.ID, p.Name, p.AccessLevel)
		return nil
	},
}

var projectGrantCmd = &cobra.Command{
	Use:   "grant <reader> <target>",
	Short: "Allow reader to read target's rows",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.GrantRead(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("granted %s read access to %s\n", args[0], args[1])
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		projects, err := st.ListProjects(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%-24s %-24s %s\n", "ID", "NAME", "LEVEL")
		for _, p := range projects {
			fmt.Printf("%-24s %-24s %s\n", p.ID, p.Name, p.AccessLevel)
		}
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "display name (default: the id)")
	projectCreateCmd.Flags().StringVar(&projectLevel, "level", "isolated", "access level: super, shared, isolated")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectGrantCmd)
	projectCmd.AddCommand(projectListCmd)
}
