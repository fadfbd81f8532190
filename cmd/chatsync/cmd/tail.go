package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/app"
)

var tailFlags scopeFlags

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a scope from the terminal",
	Long: `Prints the recent history of a room or stream and then every new
message as it arrives, until interrupted. Messages from senders blocked
with the --as user are hidden.`,
	Example: `  chatsync tail --stream s1
  chatsync tail --room lobby --as u42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := app.New(ctx, cfg)
		defer a.Close(context.Background())

		tabs, err := a.Tabs()
		if err != nil {
			return err
		}
		eng, err := tabs.Open(ctx)
		if err != nil {
			return err
		}
		defer tabs.Release(eng)

		h, err := eng.OpenScope(ctx, tailFlags.request())
		if err != nil {
			return err
		}
		if err := h.LoadErr(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "history unavailable: %v\n", err)
		}

		out := cmd.OutOrStdout()
		seen := make(map[string]bool)
		printNew(out, h.Messages(), seen)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-h.Changes():
				printNew(out, h.Messages(), seen)
			}
		}
	},
}

func init() {
	tailFlags.register(tailCmd)
	rootCmd.AddCommand(tailCmd)
}
