package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and remove installed plugins",
	}
	cmd.AddCommand(pluginsListCmd())
	cmd.AddCommand(pluginsDeleteCmd())
	return cmd
}

func pluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins and their routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			routes := a.table.Routes()
			if len(routes) == 0 {
				log.Info().Msg("no plugins loaded")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLUGIN\tMODULE\tHANDLER\tCOMMAND")
			for _, r := range routes {
				command := "-"
				if r.Command != "" {
					command = "/" + r.Command
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Plugin, r.Module, r.Handler, command)
			}
			return tw.Flush()
		},
	}
}

func pluginsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Unload a plugin and remove its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			if err := a.registry.Delete(args[0]); err != nil {
				return err
			}
			log.Info().Str("plugin", args[0]).Msg("plugin deleted")
			return nil
		},
	}
}
