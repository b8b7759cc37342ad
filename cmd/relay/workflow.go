package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/coordinator"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Create tasks from built-in workflow templates",
}

var workflowRepoAnalysisCmd = &cobra.Command{
	Use:   "repo-analysis [path]",
	Short: "Create the five-stage repository analysis workflow",
	Long: `Create the repository analysis workflow:

  scan -> research -> documentation update -> implementation -> testing

Documentation update and implementation require approval before they can
be completed. The path defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolving absolute path: %w", err)
		}

		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			ids := c.CreateRepositoryAnalysisWorkflow(abs)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created repository analysis workflow for %s\n", abs)
			for _, id := range ids {
				task, _ := c.GetTask(id)
				fmt.Fprintf(out, "  %s  %s (%s)\n", id, task.Title, task.AssignedTeam)
			}
			return nil
		})
	},
}

func init() {
	workflowCmd.AddCommand(workflowRepoAnalysisCmd)
}
