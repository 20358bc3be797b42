package main

import (
	"fmt"

	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func taskPruneCmd() *cobra.Command {
	var keepLast int
	var keepDays int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old cleaned and reverted task records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			policy := task.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				policy = task.RetentionPolicy{
					KeepLast: a.cfg.Retention.KeepLast,
					KeepDays: a.cfg.Retention.KeepDays,
				}
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in %s)", defaultConfigPath)
			}

			if err := a.lockWorkspace(); err != nil {
				return err
			}
			res, err := a.tasks.Prune(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d tasks (considered %d, kept %d)", mode, res.Deleted, res.Considered, res.Kept)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N finished tasks")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep finished tasks newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
