package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/coordinator"
	"github.com/ShayCichocki/relay/pkg/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator status",
	Long: `Display a summary of the project's coordinator.

Shows:
  - Task totals across the active, completed and failed lists
  - Active tasks broken down by status
  - Tasks ready to start and tasks waiting for approval`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), false, func(c *coordinator.Coordinator) error {
			st := c.GetSystemStatus()
			if statusJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			displayStatus(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}

func displayStatus(w io.Writer, st coordinator.SystemStatus) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Coordinator: %s\n", st.Name)
	fmt.Fprintf(w, "  Tasks created: %d\n", st.TotalTasksCreated)
	fmt.Fprintf(w, "  Active: %d\n", st.ActiveTasks)
	printCount(w, "Completed", st.CompletedTasks, color.FgGreen)
	printCount(w, "Failed", st.FailedTasks, color.FgRed)
	printCount(w, "Ready", st.ReadyTasks, color.FgCyan)
	printCount(w, "Waiting approval", st.WaitingApproval, color.FgYellow)

	if len(st.TasksByStatus) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Active by status:")
		for _, s := range models.AllTaskStatuses() {
			if n, ok := st.TasksByStatus[s]; ok {
				fmt.Fprintf(w, "  %s: %d\n", s, n)
			}
		}
	}

	if !st.LastHealthCheck.IsZero() {
		fmt.Fprintf(w, "\nLast health check: %s\n", st.LastHealthCheck.Local().Format(time.RFC1123))
	}
}

// printCount colours the value only when it is non-zero.
func printCount(w io.Writer, label string, n int, attr color.Attribute) {
	value := fmt.Sprint(n)
	if n > 0 {
		value = color.New(attr).Sprint(n)
	}
	fmt.Fprintf(w, "  %s: %s\n", label, value)
}
