package main

import (
	"fmt"
	"os"

	"github.com/metalagman/forge/internal/fslock"
	"github.com/metalagman/forge/internal/quality"
	"github.com/metalagman/forge/internal/versioning"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>...",
		Short: "Run the quality gate on files and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			gate := quality.NewGate(cfg.Quality, quality.Probe())

			failed := 0
			results := make(map[string]quality.Result, len(args))
			for _, path := range args {
				res := gate.Check(cmd.Context(), path)
				results[path] = res
				if !res.Passed {
					failed++
				}
			}
			if err := writeJSON(os.Stdout, results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed the quality gate", failed, len(args))
			}
			return nil
		},
	}
}

func fixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix <file>...",
		Short: "Sort imports and reformat files with the available formatters",
		Long:  "Sort imports and reformat files with isort and black when they are installed. Each file is backed up first so diff and undo can see the change.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			lock, err := fslock.TryAcquire(cfg.Paths.Data, fslock.Name)
			if err != nil {
				return err
			}
			defer lock.Release()

			gate := quality.NewGate(cfg.Quality, quality.Probe())
			for _, path := range args {
				if _, err := versioning.Backup(path); err != nil {
					return fmt.Errorf("backup %s: %w", path, err)
				}
				ran, err := gate.AutoFix(cmd.Context(), path)
				if err != nil {
					return err
				}
				if !ran {
					log.Warn().Msg("neither isort nor black is installed, nothing to do")
					return nil
				}
				log.Info().Str("file", path).Msg("file formatted")
			}
			return nil
		},
	}
}
