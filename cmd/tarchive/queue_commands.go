package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tarchive/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the task queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRequeueCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(states)
				if err != nil {
					return err
				}
				if len(resp.Tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(resp.Tasks))
				for _, task := range resp.Tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						task.Kind,
						taskStateCell(task),
						task.TapeID,
						shortenPath(task.TargetPath),
						taskAge(task),
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(out,
					[]string{"ID", "KIND", "STATE", "TAPE", "TARGET", "AGE"}, rows, 0))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (queued, running, completed, failed)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task in full, including its result or failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(id)
				if err != nil {
					return err
				}
				task := resp.Task
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "task %d (%s)\n", task.ID, task.Kind)
				fmt.Fprintf(out, "  state:    %s\n", taskStateCell(task))
				if task.TargetPath != "" {
					fmt.Fprintf(out, "  target:   %s\n", task.TargetPath)
				}
				if task.TapeID != "" {
					fmt.Fprintf(out, "  tape:     %s\n", task.TapeID)
				}
				if task.RestorePath != "" {
					fmt.Fprintf(out, "  restore:  %s\n", task.RestorePath)
				}
				fmt.Fprintf(out, "  attempts: %d\n", task.Attempts)
				fmt.Fprintf(out, "  created:  %s\n", task.CreatedAt)
				if task.FinishedAt != "" {
					fmt.Fprintf(out, "  finished: %s\n", task.FinishedAt)
				}
				if task.Error != "" {
					fmt.Fprintf(out, "  error:    [%s] %s\n", task.ErrorKind, task.Error)
					if task.SenseCode != "" {
						fmt.Fprintf(out, "  sense:    %s\n", task.SenseCode)
					}
				}
				if task.Result != "" {
					fmt.Fprintf(out, "  result:\n")
					for _, line := range strings.Split(task.Result, "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
				return nil
			})
		},
	}
}

func newQueueRequeueCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "requeue [id...]",
		Short: "Reset failed tasks to queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass task ids or --all-failed")
			}
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Requeue(ids)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d task(s) requeued\n", resp.Updated)
				if len(resp.Rejected) > 0 {
					fmt.Fprintf(out, "not in failed state, skipped: %v\n", resp.Rejected)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all-failed", false, "Requeue every failed task")
	return cmd
}

func taskStateCell(task ipc.TaskView) string {
	if task.State == "running" && task.Phase != "" {
		return fmt.Sprintf("running (%s)", task.Phase)
	}
	if task.State == "failed" && task.ErrorKind != "" {
		return fmt.Sprintf("failed (%s)", task.ErrorKind)
	}
	return task.State
}

func taskAge(task ipc.TaskView) string {
	created, err := time.Parse(time.RFC3339, task.CreatedAt)
	if err != nil {
		return ""
	}
	return humanize.Time(created)
}

func shortenPath(path string) string {
	const max = 48
	if len(path) <= max {
		return path
	}
	return "..." + path[len(path)-max+3:]
}
