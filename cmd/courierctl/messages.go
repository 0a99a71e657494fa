package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/courier/internal/api"
	"github.com/spf13/cobra"
)

var (
	limitFlag       int
	offsetFlag      int
	searchChatFlag  string
	searchLimitFlag int
)

func init() {
	messagesCmd.Flags().IntVar(&limitFlag, "limit", 50, "maximum number of messages")
	messagesCmd.Flags().IntVar(&offsetFlag, "offset", 0, "number of newest messages to skip")
	searchCmd.Flags().StringVar(&searchChatFlag, "chat", "", "restrict the search to one chat")
	searchCmd.Flags().IntVar(&searchLimitFlag, "limit", 20, "maximum number of results")
	rootCmd.AddCommand(sendCmd, messagesCmd, queueCmd, retryCmd, flushCmd, searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <text...>",
	Short: "Search cached messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			msgs, err := c.Search(ctx, strings.Join(args, " "), searchChatFlag, searchLimitFlag)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(msgs)
				return nil
			}
			if len(msgs) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			printMessages(msgs)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			msg, err := c.SendText(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(msg)
				return nil
			}
			fmt.Printf("Queued %s (%s)\n", msg.OptimisticID, msg.Status)
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "List cached messages of a chat, newest last",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			msgs, err := c.ListMessages(ctx, args[0], limitFlag, offsetFlag)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(msgs)
				return nil
			}
			printMessages(msgs)
			return nil
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List messages waiting for delivery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			msgs, err := c.ListQueued(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(msgs)
				return nil
			}
			if len(msgs) == 0 {
				fmt.Println("Queue is empty.")
				return nil
			}
			printMessages(msgs)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message-id>",
	Short: "Retry a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			msg, err := c.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(msg)
				return nil
			}
			fmt.Printf("Retrying %s (%s)\n", msg.ID, msg.Status)
			return nil
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the offline queue now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			res, err := c.Flush(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(res)
				return nil
			}
			if !res.Ran {
				fmt.Println("Flush skipped (offline or already running).")
				return nil
			}
			fmt.Printf("Delivered %d, retried %d, failed %d, skipped %d, reactions %d\n",
				res.Delivered, res.Retried, res.Failed, res.Skipped, res.Reactions)
			return nil
		})
	},
}

func printMessages(msgs []api.MessageView) {
	for _, m := range msgs {
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
		body := m.Text
		switch {
		case m.ImageURL != "":
			body = "[image] " + m.ImageURL
		case m.AudioURL != "":
			body = fmt.Sprintf("[audio %ds] %s", m.AudioDuration, m.AudioURL)
		}
		id := m.ID
		if m.IsOptimistic {
			id = m.OptimisticID
		}
		fmt.Printf("%s  %-9s %-12s %s: %s\n", ts, m.Status, id, m.SenderID, body)
	}
}

var removeFlag bool

func init() {
	reactCmd.Flags().BoolVar(&removeFlag, "remove", false, "remove the reaction instead of adding it")
	rootCmd.AddCommand(reactCmd)
}

var reactCmd = &cobra.Command{
	Use:   "react <chat-id> <message-id> <emoji>",
	Short: "React to a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			res, err := c.React(ctx, args[0], args[1], args[2], removeFlag)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(res)
				return nil
			}
			if res.Queued {
				fmt.Printf("Reaction %s queued for %s\n", res.Emoji, res.MessageID)
				return nil
			}
			fmt.Printf("Reaction %s applied to %s\n", res.Emoji, res.MessageID)
			return nil
		})
	},
}
