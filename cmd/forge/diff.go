package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func diffCmd() *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "diff <file>",
		Short: "Show the diff of a managed file against its backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if restore {
				if err := a.lockWorkspace(); err != nil {
					return err
				}
				path, err := a.sandbox.RestoreFile(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("restored %s\n", path)
				return nil
			}

			out, err := a.sandbox.DiffFile(args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "restore the file from its backup instead of diffing")
	return cmd
}
