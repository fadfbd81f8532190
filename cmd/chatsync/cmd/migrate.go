package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/app"
	"github.com/nfrund/chatsync/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Defines the chat tables, their indexes and the scope check. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := app.New(ctx, cfg)
		defer a.Close(context.Background())

		conn, err := a.Connection()
		if err != nil {
			return err
		}
		if err := database.Migrate(ctx, conn); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema applied to %s/%s\n", cfg.DBNs, cfg.DBDb)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
