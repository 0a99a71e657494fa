package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(appCmd, typingCmd)
}

var appCmd = &cobra.Command{
	Use:       "app <active|background|inactive>",
	Short:     "Report the client application state",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"active", "background", "inactive"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			snap, err := c.SetAppState(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(snap)
				return nil
			}
			fmt.Printf("Presence: %v (app=%v)\n", snap["state"], snap["app_state"])
			return nil
		})
	},
}

var typingCmd = &cobra.Command{
	Use:       "typing <chat-id> <on|off>",
	Short:     "Set the typing indicator in a chat",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var typing bool
		switch args[1] {
		case "on":
			typing = true
		case "off":
		default:
			return fmt.Errorf("typing must be on or off, got %q", args[1])
		}
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			return c.SetTyping(ctx, args[0], typing)
		})
	},
}
