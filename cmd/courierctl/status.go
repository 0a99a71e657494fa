package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/lock"
	"github.com/matheus3301/courier/internal/profile"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, network, sync and presence status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := withClient(cmd, func(ctx context.Context, c *api.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Profile:  %s\n", st.Profile)
			fmt.Printf("User:     %s\n", valueOrDefault(st.UserID, "(not set)"))
			fmt.Printf("Network:  %s (online=%v)\n", st.Network.Type, st.Online)
			fmt.Printf("Sync:     %s\n", st.SyncState)
			fmt.Printf("Presence: %s (app=%s, linked=%v)\n", st.Presence.State, st.Presence.AppState, st.Presence.Linked)
			fmt.Printf("Queue:    %d queued, %d failed\n", st.Queued, st.Failed)
			return nil
		})
		if grpcstatus.Code(err) == codes.Unavailable {
			return offlineStatus(err)
		}
		return err
	},
}

// offlineStatus explains an unreachable daemon using the profile lock.
func offlineStatus(cause error) error {
	name, err := activeProfile()
	if err != nil {
		return err
	}
	info, err := lock.Inspect(profile.Dir(name))
	if err != nil {
		return fmt.Errorf("daemon unreachable (%v) and lock unreadable: %w", cause, err)
	}
	if info == nil {
		fmt.Printf("Profile:  %s\n", name)
		fmt.Println("Daemon:   not running")
		return nil
	}
	return fmt.Errorf("daemon for profile %q holds the lock (pid %d) but is not answering: %w", name, info.PID, cause)
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
