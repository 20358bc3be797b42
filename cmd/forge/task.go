package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage generation tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskPendingCmd())
	cmd.AddCommand(taskIntegrateCmd())
	cmd.AddCommand(taskTestCmd())
	cmd.AddCommand(taskCleanCmd())
	cmd.AddCommand(taskUndoCmd())
	cmd.AddCommand(taskEventsCmd())
	cmd.AddCommand(taskPruneCmd())
	return cmd
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func writeTasks(w io.Writer, items []task.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tKIND\tSTATUS\tFILES\tISSUES\tFEATURE")
	for _, t := range items {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%d\t%s\n", t.ID, t.UserID, t.Kind, t.Status, len(t.Files), len(t.Errors), t.Feature)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func taskListCmd() *cobra.Command {
	var status string
	var userID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := task.Filter{Status: task.Status(status)}
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			if cmd.Flags().Changed("user") {
				f.UserID = &userID
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			items, err := a.tasks.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				log.Info().Msg("no tasks")
				return nil
			}
			return writeTasks(os.Stdout, items)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (sandboxed|integrated|cleaned|reverted)")
	cmd.Flags().Int64Var(&userID, "user", 0, "filter by user id")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.tasks.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, t)
		},
	}
}

func taskPendingCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List a user's sandboxed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			items, err := a.sandbox.Pending(cmd.Context(), a.defaultUser(userID))
			if err != nil {
				return err
			}
			if len(items) == 0 {
				log.Info().Msg("no pending tasks")
				return nil
			}
			return writeTasks(os.Stdout, items)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (defaults to owner_id)")
	return cmd
}

func taskIntegrateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "integrate <id>",
		Short: "Promote a sandboxed task into the plugins directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			res, err := a.sandbox.Integrate(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			log.Info().Int64("task_id", id).Str("plugin", res.PluginName).Int("files", len(res.Files)).Msg("task integrated")
			if res.LoadError != nil {
				log.Warn().Err(res.LoadError).Str("plugin", res.PluginName).Msg("plugin did not load")
			}
			fmt.Println(res.PluginDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "plugin name (defaults to the task's feature directory)")
	return cmd
}

func taskTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Check that every file of a sandboxed task still parses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.sandbox.Test(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := writeJSON(os.Stdout, report); err != nil {
				return err
			}
			if !report.OK {
				return fmt.Errorf("task %d has files that do not parse", id)
			}
			return nil
		},
	}
}

func taskCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean <id>",
		Short: "Discard a sandboxed task and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			if _, err := a.sandbox.Clean(cmd.Context(), id); err != nil {
				return err
			}
			log.Info().Int64("task_id", id).Msg("task cleaned")
			return nil
		},
	}
}

func taskUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <id>",
		Short: "Restore the files a task overwrote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			t, err := a.sandbox.Revert(cmd.Context(), id)
			if err != nil {
				return err
			}
			log.Info().Int64("task_id", id).Str("status", string(t.Status)).Msg("task reverted")
			return nil
		},
	}
}

func taskEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Show the status history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.tasks.Get(cmd.Context(), id); err != nil {
				return err
			}
			events, err := a.tasks.Events(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tAT\tFROM\tTO\tREASON")
			for _, ev := range events {
				from := string(ev.From)
				if from == "" {
					from = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.At.Format("2006-01-02 15:04:05"), from, ev.To, ev.Reason)
			}
			return tw.Flush()
		},
	}
}
