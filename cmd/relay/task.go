package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/coordinator"
	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	taskKind        string
	taskTitle       string
	taskDescription string
	taskPriority    int
	taskEstimate    string
	taskDepends     string
	taskApproval    bool

	assignTeam  string
	assignAgent string

	statusResult string
	statusError  string

	approveBy     string
	approveResult string

	rejectReason string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage coordinator tasks",
	Long: `Create, route and complete tasks in the project's coordinator.

The coordinator is loaded from the project database before each command
and saved back after commands that change it.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := models.TaskKind(taskKind)
		if !kind.Valid() {
			return fmt.Errorf("unknown task kind %q", taskKind)
		}
		spec := coordinator.TaskSpec{
			Kind:              kind,
			Title:             taskTitle,
			Description:       taskDescription,
			Priority:          taskPriority,
			EstimatedDuration: taskEstimate,
			Dependencies:      splitList(taskDepends),
			RequiresApproval:  taskApproval,
		}
		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			task := c.CreateTask(spec)
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", task.ID, task.Title)
			return nil
		})
	},
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign <task-id>",
	Short: "Assign a task to a team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			if err := c.AssignTask(args[0], models.Team(assignTeam), assignAgent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s\n", args[0], assignTeam)
			return nil
		})
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id> <status>",
	Short: "Update a task's status",
	Long: `Move a task to a new status.

Valid statuses: pending, in_progress, waiting_approval, completed, failed,
cancelled. Completed, failed and cancelled tasks leave the active set.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := parseResult(statusResult)
		if err != nil {
			return err
		}
		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			if err := c.UpdateTaskStatus(args[0], models.TaskStatus(args[1]), result, statusError); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
			return nil
		})
	},
}

var taskRequestApprovalCmd = &cobra.Command{
	Use:   "request-approval <task-id>",
	Short: "Park a task until a human approves it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			if err := c.RequestApproval(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is waiting for approval\n", args[0])
			return nil
		})
	},
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve and complete a waiting task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := parseResult(approveResult)
		if err != nil {
			return err
		}
		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			if err := c.Approve(args[0], approveBy, result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved %s\n", args[0])
			return nil
		})
	},
}

var taskRejectCmd = &cobra.Command{
	Use:   "reject <task-id>",
	Short: "Reject a waiting task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), true, func(c *coordinator.Coordinator) error {
			if err := c.Reject(args[0], rejectReason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", args[0])
			return nil
		})
	},
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks whose dependencies are complete",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), false, func(c *coordinator.Coordinator) error {
			ready := c.GetReadyTasks()
			if len(ready) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No ready tasks.")
				return nil
			}
			printTasks(cmd.OutOrStdout(), ready)
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active, completed and failed tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), false, func(c *coordinator.Coordinator) error {
			out := cmd.OutOrStdout()
			sections := []struct {
				title string
				tasks []*models.Task
			}{
				{"Active", c.ActiveTasks()},
				{"Completed", c.CompletedTasks()},
				{"Failed", c.FailedTasks()},
			}
			for i, s := range sections {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s (%d):\n", s.title, len(s.tasks))
				if len(s.tasks) > 0 {
					printTasks(out, s.tasks)
				}
			}
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), false, func(c *coordinator.Coordinator) error {
			task, ok := c.GetTask(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", coordinator.ErrTaskNotFound, args[0])
			}
			return writeJSON(cmd.OutOrStdout(), task)
		})
	},
}

var taskValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the task graph for cycles and dangling dependencies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCoordinator(cmd.Context(), false, func(c *coordinator.Coordinator) error {
			report, err := c.Validate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(report.Dangling) == 0 && len(report.Blocked) == 0 {
				fmt.Fprintln(out, "Task graph OK.")
				return nil
			}
			ids := make([]string, 0, len(report.Dangling))
			for id := range report.Dangling {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "%s depends on unknown tasks: %s\n", id, strings.Join(report.Dangling[id], ", "))
			}
			for _, id := range report.Blocked {
				fmt.Fprintf(out, "%s is blocked by a failed dependency\n", id)
			}
			return nil
		})
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskKind, "kind", string(models.TaskKindResearchInvestigation), "Task kind")
	taskCreateCmd.Flags().StringVar(&taskTitle, "title", "", "Task title")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().IntVar(&taskPriority, "priority", 0, "Priority, 1 (high) to 3 (low); 0 uses the default")
	taskCreateCmd.Flags().StringVar(&taskEstimate, "estimate", "", "Free-text duration estimate")
	taskCreateCmd.Flags().StringVar(&taskDepends, "depends", "", "Comma-separated task IDs this task depends on")
	taskCreateCmd.Flags().BoolVar(&taskApproval, "requires-approval", false, "Gate completion on human approval")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskAssignCmd.Flags().StringVar(&assignTeam, "team", "", "Team name (repo_analyst, research_lab, implementers)")
	taskAssignCmd.Flags().StringVar(&assignAgent, "agent", "", "Agent within the team")
	_ = taskAssignCmd.MarkFlagRequired("team")

	taskStatusCmd.Flags().StringVar(&statusResult, "result", "", "Result as a JSON object")
	taskStatusCmd.Flags().StringVar(&statusError, "error", "", "Error message for failed tasks")

	taskApproveCmd.Flags().StringVar(&approveBy, "by", "", "Who approved the task")
	taskApproveCmd.Flags().StringVar(&approveResult, "result", "", "Result as a JSON object")

	taskRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the task was rejected")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskAssignCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskRequestApprovalCmd)
	taskCmd.AddCommand(taskApproveCmd)
	taskCmd.AddCommand(taskRejectCmd)
	taskCmd.AddCommand(taskReadyCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskValidateCmd)
}

func printTasks(w io.Writer, tasks []*models.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tPRIORITY\tSTATUS\tTEAM\tTITLE")
	for _, t := range tasks {
		team := string(t.AssignedTeam)
		if team == "" {
			team = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", t.ID, t.Kind, t.Priority, t.Status, team, t.Title)
	}
	tw.Flush()
}

// splitList parses a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseResult(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return nil, fmt.Errorf("--result must be a JSON object: %w", err)
	}
	return result, nil
}
