package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsync/internal/domain"
)

func TestFormatMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  domain.ChatMessage
		want string
	}{
		{
			name: "text",
			msg:  domain.ChatMessage{SenderID: "u1", Kind: domain.KindText, Body: "gg", CreatedAt: now.Add(-2 * time.Minute)},
			want: "2 minutes ago  u1: gg",
		},
		{
			name: "system",
			msg:  domain.ChatMessage{Kind: domain.KindSystem, Body: "stream started", CreatedAt: now.Add(-time.Hour)},
			want: "1 hour ago     * stream started",
		},
		{
			name: "styled pending",
			msg: domain.ChatMessage{
				SenderID: "u1", Kind: domain.KindText, Body: "hi", CreatedAt: now,
				Style: &domain.StyleOverride{SenderID: "u1", BubbleColor: "#fff"}, Pending: true,
			},
			want: "now            u1: hi [#fff] (sending)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMessage(tt.msg, now))
		})
	}
}

func TestPrintNew_SkipsSeenAndPending(t *testing.T) {
	var buf bytes.Buffer
	seen := map[string]bool{"chat_message:1": true}
	msgs := []domain.ChatMessage{
		{ID: "chat_message:1", SenderID: "u1", Body: "old"},
		{ID: "chat_message:2", SenderID: "u1", Body: "new"},
		{ID: domain.TemporaryIDPrefix + "x", SenderID: "u1", Body: "echo", Pending: true},
	}

	printNew(&buf, msgs, seen)
	printNew(&buf, msgs, seen)

	out := buf.String()
	assert.NotContains(t, out, "old")
	assert.NotContains(t, out, "echo")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("u1: new")))
	require.True(t, seen["chat_message:2"])
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "chatsync v"+version+"\n", buf.String())
}
