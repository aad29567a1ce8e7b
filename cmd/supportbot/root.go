package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/logger"
	"github.com/memohai/supportbot/internal/version"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "supportbot",
		Short:         "Telegram support desk bot",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultConfig := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "Path to config.toml (or set CONFIG_PATH)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newUsersCmd(opts))
	cmd.AddCommand(newCustomersCmd(opts))
	cmd.AddCommand(newOperatorsCmd(opts))
	cmd.AddCommand(newMessagesCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.Init(cfg.Log.Level, cfg.Log.Format), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "supportbot %s\n", version.GetInfo())
		},
	}
}
