package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/courier/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	chatCmd.AddCommand(chatOpenCmd, chatGroupCmd, chatDeleteCmd, chatLeaveCmd, chatRemoveCmd)
	rootCmd.AddCommand(chatCmd, chatsCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List cached chats, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			chats, err := c.ListChats(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(chats)
				return nil
			}
			if len(chats) == 0 {
				fmt.Println("No chats.")
				return nil
			}
			for _, ch := range chats {
				title := ch.Name
				if title == "" {
					title = strings.Join(ch.Participants, ", ")
				}
				fmt.Printf("%-40s %-6s %s  %s\n", ch.ID, ch.Type, title, ch.LastMessage)
			}
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Manage chats",
}

var chatOpenCmd = &cobra.Command{
	Use:   "open <user-id>",
	Short: "Open the direct chat with a user, creating it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			chat, err := c.OpenChat(ctx, args[0])
			if err != nil {
				return err
			}
			printChat(chat)
			return nil
		})
	},
}

var chatGroupCmd = &cobra.Command{
	Use:   "group <name> <member-id...>",
	Short: "Create a group chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			chat, err := c.CreateGroup(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			printChat(chat)
			return nil
		})
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			if err := c.DeleteChat(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

var chatLeaveCmd = &cobra.Command{
	Use:   "leave <chat-id>",
	Short: "Leave a group chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			if err := c.LeaveChat(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Left %s\n", args[0])
			return nil
		})
	},
}

var chatRemoveCmd = &cobra.Command{
	Use:   "remove <chat-id> <user-id>",
	Short: "Remove a member from a group you administer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			if err := c.RemoveMember(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s from %s\n", args[1], args[0])
			return nil
		})
	},
}

func printChat(chat *api.ChatView) {
	if jsonFlag {
		outputJSON(chat)
		return
	}
	fmt.Printf("Chat:    %s (%s)\n", chat.ID, chat.Type)
	if chat.Name != "" {
		fmt.Printf("Name:    %s\n", chat.Name)
	}
	fmt.Printf("Members: %s\n", strings.Join(chat.Participants, ", "))
	if len(chat.AdminIDs) > 0 {
		fmt.Printf("Admins:  %s\n", strings.Join(chat.AdminIDs, ", "))
	}
}
