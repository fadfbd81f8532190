package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/app"
)

var sendFlags scopeFlags

var sendCmd = &cobra.Command{
	Use:     "send [message]",
	Short:   "Post a message to a scope",
	Example: `  chatsync send --stream s1 --as u42 gg`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := app.New(ctx, cfg)
		defer a.Close(context.Background())

		tabs, err := a.Tabs()
		if err != nil {
			return err
		}
		eng, err := tabs.Shared()
		if err != nil {
			return err
		}

		h, err := eng.OpenScope(ctx, sendFlags.request())
		if err != nil {
			return err
		}
		defer h.Close()

		msg, err := h.Send(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
		fmt.Fprintln(cmd.ErrOrStderr(), formatMessage(msg, time.Now()))
		return nil
	},
}

func init() {
	sendFlags.register(sendCmd)
	_ = sendCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(sendCmd)
}
