package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/metalagman/forge/internal/reconcile"
	"github.com/metalagman/forge/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the message endpoint and task views over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			res, err := reconcile.Run(ctx, a.tasks)
			if err != nil {
				return err
			}
			log.Info().Int("checked", res.Checked).Int("cleaned", len(res.Cleaned)).Msg("reconciled tasks")

			eng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			srv, err := web.NewServer(eng, a.tasks, a.table)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}
