package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/api"
	"github.com/spf13/cobra"
)

var avatarFlag string

func init() {
	userSetCmd.Flags().StringVar(&avatarFlag, "avatar", "", "avatar URL")
	userCmd.AddCommand(userShowCmd, userSetCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and edit cached user profiles",
}

var userShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a cached user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			u, err := c.GetUser(ctx, args[0])
			if err != nil {
				return err
			}
			printUser(u)
			return nil
		})
	},
}

var userSetCmd = &cobra.Command{
	Use:   "set <user-id> <name>",
	Short: "Set the display name of a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			u, err := c.PutUser(ctx, api.UserView{ID: args[0], Name: args[1], AvatarURL: avatarFlag})
			if err != nil {
				return err
			}
			printUser(u)
			return nil
		})
	},
}

func printUser(u *api.UserView) {
	if jsonFlag {
		outputJSON(u)
		return
	}
	fmt.Printf("User:   %s\n", u.ID)
	fmt.Printf("Name:   %s\n", valueOrDefault(u.Name, "(none)"))
	if u.AvatarURL != "" {
		fmt.Printf("Avatar: %s\n", u.AvatarURL)
	}
}
