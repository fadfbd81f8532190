package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/config"
	"github.com/nfrund/chatsync/internal/logging"
)

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Realtime chat sync engine",
	Long: `chatsync keeps chat scopes (rooms and live streams) in sync between a
SurrealDB backend and any number of clients.

Available commands:
  serve      Run the HTTP and WebSocket gateway
  migrate    Apply the database schema
  tail       Follow a scope from the terminal
  send       Post a message to a scope
  style      Save a sender's display style

Use "chatsync [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		}
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		logging.Setup(os.Stderr, cfg.LogFormat, cfg.LogLevel)
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "additional .env file to load before the environment")
}
