package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/profile"
	"github.com/spf13/cobra"
)

var (
	userIDFlag   string
	userNameFlag string
	forceFlag    bool
)

func init() {
	configInitCmd.Flags().StringVar(&userIDFlag, "user-id", "", "user id of this device")
	configInitCmd.Flags().StringVar(&userNameFlag, "user-name", "", "display name sent with messages")
	configInitCmd.Flags().BoolVar(&forceFlag, "force", false, "overwrite an existing config")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the courier config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		path := profile.ConfigPath()
		if _, err := os.Stat(path); err == nil && !forceFlag {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		cfg := config.Default()
		cfg.User = config.UserConfig{ID: userIDFlag, Name: userNameFlag}
		if profileFlag != "" {
			if err := profile.ValidateName(profileFlag); err != nil {
				return err
			}
			cfg.DefaultProfile = profileFlag
		}
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(profile.ConfigPath())
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(cfg)
			return nil
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}
