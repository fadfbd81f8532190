package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/app"
	"github.com/nfrund/chatsync/internal/database"
	"github.com/nfrund/chatsync/internal/server"
)

var (
	serveMigrate bool
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket gateway",
	Long: `Serves the REST API, the /ws live socket, /healthz and /metrics on
HTTP_ADDR until interrupted. Every socket is served by its own engine, and
engines in this process and in other processes sharing the relay bus keep
each other in sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := app.New(ctx, cfg)
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				slog.Warn("Shutdown finished with errors", "error", err)
			}
		}()

		conn, err := a.Connection()
		if err != nil {
			return err
		}
		if serveMigrate {
			if err := database.Migrate(ctx, conn); err != nil {
				return err
			}
		}
		tabs, err := a.Tabs()
		if err != nil {
			return err
		}

		srv := server.New(server.Options{
			Engines:        tabs,
			Health:         conn,
			AllowedOrigins: serveOrigins,
		})
		return srv.Start(ctx, cfg.HTTPAddr)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the database schema before serving")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allow-origin", nil, "extra WebSocket origin patterns to accept")
	rootCmd.AddCommand(serveCmd)
}
