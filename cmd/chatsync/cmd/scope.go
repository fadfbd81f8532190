package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/engine"
)

// scopeFlags are shared by the commands that open a scope.
type scopeFlags struct {
	room   string
	stream string
	owner  string
	user   string
	email  string
}

func (f *scopeFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.room, "room", "", "room id")
	c.Flags().StringVar(&f.stream, "stream", "", "live stream id")
	c.Flags().StringVar(&f.owner, "owner", "", "room host or streamer, checked for blocks on send")
	c.Flags().StringVar(&f.user, "as", "", "user id to act as")
	c.Flags().StringVar(&f.email, "email", "", "email of the acting user, used if a profile has to be created")
	c.MarkFlagsMutuallyExclusive("room", "stream")
	c.MarkFlagsOneRequired("room", "stream")
}

func (f *scopeFlags) request() engine.OpenRequest {
	return engine.OpenRequest{
		RoomID:   f.room,
		StreamID: f.stream,
		OwnerID:  f.owner,
		Viewer:   domain.Identity{UserID: f.user, Email: f.email},
	}
}

// formatMessage renders one message as a terminal line.
func formatMessage(m domain.ChatMessage, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s ", humanize.RelTime(m.CreatedAt, now, "ago", "from now"))
	if m.IsSystem() {
		fmt.Fprintf(&b, "* %s", m.Body)
	} else {
		fmt.Fprintf(&b, "%s: %s", m.SenderID, m.Body)
	}
	if m.Style != nil && m.Style.BubbleColor != "" {
		fmt.Fprintf(&b, " [%s]", m.Style.BubbleColor)
	}
	if m.Pending {
		b.WriteString(" (sending)")
	}
	return b.String()
}

// printNew writes confirmed messages not printed yet and marks them seen.
func printNew(w io.Writer, msgs []domain.ChatMessage, seen map[string]bool) {
	now := time.Now()
	for _, m := range msgs {
		if m.Pending || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		fmt.Fprintln(w, formatMessage(m, now))
	}
}
