package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/app"
	"github.com/nfrund/chatsync/internal/domain"
)

var (
	styleUser  string
	styleColor string
	styleFont  string
)

var styleCmd = &cobra.Command{
	Use:   "style",
	Short: "Save a sender's display style",
	Long: `Saves the bubble color and font shown for a sender. Open sockets restyle
that sender's messages without reloading.`,
	Example: `  chatsync style --as u42 --color "#ff8800" --font mono`,
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

		s := domain.StyleOverride{SenderID: styleUser, BubbleColor: styleColor, Font: styleFont}
		if err := eng.SaveStyle(ctx, s); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved style for %s\n", styleUser)
		return nil
	},
}

func init() {
	styleCmd.Flags().StringVar(&styleUser, "as", "", "sender whose style to save")
	styleCmd.Flags().StringVar(&styleColor, "color", "", "bubble color, e.g. #ff8800")
	styleCmd.Flags().StringVar(&styleFont, "font", "", "font name")
	_ = styleCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(styleCmd)
}
