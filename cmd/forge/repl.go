package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/metalagman/forge/internal/reconcile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func replCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Read messages from stdin, one per line, and print each reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			if res, err := reconcile.Run(ctx, a.tasks); err != nil {
				log.Warn().Err(err).Msg("reconcile tasks")
			} else if len(res.Cleaned) > 0 {
				log.Info().Int("cleaned", len(res.Cleaned)).Msg("reconciled tasks")
			}
			eng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			user := a.defaultUser(userID)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				fmt.Fprint(os.Stderr, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				if err := printReply(os.Stdout, eng.Handle(ctx, user, line), false); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "sender user id (defaults to owner_id)")
	return cmd
}
