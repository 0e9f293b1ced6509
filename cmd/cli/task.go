package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"duxnet.io/node/internal/task"
)

var taskRootCmd = &cobra.Command{Use: "task", Short: "Submit and manage tasks", PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return ensureNode() }}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit [service_id] [escrow_id] [payload]",
	Short: "Submit a task against a funded escrow",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := n.Task.Submit(args[0], []byte(args[2]), task.Requirements{}, args[1])
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(t, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var taskAcceptCmd = &cobra.Command{
	Use:   "accept [task_id]",
	Short: "Accept a pending task as the local node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := n.Task.Accept(args[0], string(n.Identity.LocalDID()))
		if err != nil {
			return err
		}
		raw, _ := json.MarshalIndent(t, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var taskStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print pending/processing/completed task counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := json.MarshalIndent(n.Task.Stats(), "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

func init() {
	taskRootCmd.AddCommand(taskSubmitCmd, taskAcceptCmd, taskStatsCmd)
}

// TaskCmd exposes the root command for registration by RegisterRoutes in index.go.
var TaskCmd = taskRootCmd
