package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/metalagman/forge/internal/engine"
	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var userID int64
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to the engine and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("message is required")
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.lockWorkspace(); err != nil {
				return err
			}
			eng, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			reply := eng.Handle(cmd.Context(), a.defaultUser(userID), text)
			return printReply(os.Stdout, reply, asJSON)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "sender user id (defaults to owner_id)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full reply as JSON")
	return cmd
}

func printReply(w io.Writer, reply engine.Reply, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	_, err := fmt.Fprintln(w, reply.Text)
	return err
}
