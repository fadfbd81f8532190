package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/pubsub"
	"github.com/nfrund/chatsync/internal/scope"
)

var key = scope.Key("stream:s1")

func sample() domain.ChatMessage {
	return domain.ChatMessage{
		ID:        "chat_message:abc",
		ScopeKey:  key,
		SenderID:  "u1",
		Kind:      domain.KindText,
		Body:      "gg",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Style:     &domain.StyleOverride{SenderID: "u1", BubbleColor: "#111"},
	}
}

func TestEnvelope_NewMessageRoundTrip(t *testing.T) {
	env, err := NewMessageEnvelope("tab-1", sample())
	require.NoError(t, err)
	assert.Equal(t, Version, env.V)
	assert.Equal(t, key, env.Scope)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	msg, err := decoded.Message()
	require.NoError(t, err)
	assert.Equal(t, "chat_message:abc", msg.ID)
	assert.Equal(t, "gg", msg.Body)
	assert.Nil(t, msg.Style, "styles never travel with messages")
}

func TestEnvelope_InsufficientPayload(t *testing.T) {
	cases := map[string]Envelope{
		"no payload": {V: 1, Type: TypeNewMessage, Scope: key},
		"garbage":    {V: 1, Type: TypeNewMessage, Scope: key, Payload: json.RawMessage(`"nope"`)},
		"no message": {V: 1, Type: TypeNewMessage, Scope: key, Payload: json.RawMessage(`{}`)},
		"temp id":    {V: 1, Type: TypeNewMessage, Scope: key, Payload: json.RawMessage(`{"message":{"id":"tmp_1","body":"x","createdAt":"2024-05-01T12:00:00Z"}}`)},
		"no time":    {V: 1, Type: TypeNewMessage, Scope: key, Payload: json.RawMessage(`{"message":{"id":"chat_message:1","body":"x"}}`)},
		"wrong scope": {V: 1, Type: TypeNewMessage, Scope: key,
			Payload: json.RawMessage(`{"message":{"id":"chat_message:1","scopeKey":"room:r1","body":"x","createdAt":"2024-05-01T12:00:00Z"}}`)},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Message()
			assert.ErrorIs(t, err, ErrInsufficientPayload)
		})
	}
}

func TestEnvelope_StyleChange(t *testing.T) {
	env, err := StyleChangedEnvelope("tab-1", domain.StyleOverride{SenderID: "u1", Font: "mono"})
	require.NoError(t, err)

	p, err := env.StyleChange()
	require.NoError(t, err)
	assert.Equal(t, "u1", p.SenderID)
	assert.Equal(t, "mono", p.Style.Font)

	_, err = env.Message()
	assert.Error(t, err)
}

func collect(t *testing.T, r *Relay, ctx context.Context, origin string) <-chan Envelope {
	t.Helper()
	ch := make(chan Envelope, 10)
	require.NoError(t, r.Subscribe(ctx, origin, func(_ context.Context, env Envelope) { ch <- env }))
	return ch
}

func TestRelay_SkipsOwnOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()
	r := New(bus, "")

	tab1 := collect(t, r, ctx, "tab-1")
	tab2 := collect(t, r, ctx, "tab-2")

	env, err := NewMessageEnvelope("tab-1", sample())
	require.NoError(t, err)
	require.NoError(t, r.Publish(ctx, env))

	select {
	case got := <-tab2:
		assert.Equal(t, TypeNewMessage, got.Type)
		assert.Equal(t, "tab-1", got.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("sibling did not receive the envelope")
	}
	select {
	case <-tab1:
		t.Fatal("publisher received its own envelope")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelay_DropsUnknownVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()
	r := New(bus, "test.relay")

	got := collect(t, r, ctx, "tab-2")
	require.NoError(t, r.Publish(ctx, Envelope{V: 2, Type: TypeNewMessage, Origin: "tab-1"}))
	require.NoError(t, r.Publish(ctx, Envelope{Type: TypeStyleChanged, Origin: "tab-1"}))

	select {
	case env := <-got:
		assert.Equal(t, TypeStyleChanged, env.Type, "v2 is dropped, v0 is stamped as v1")
	case <-time.After(2 * time.Second):
		t.Fatal("expected the v1 envelope")
	}
}

func TestStyleBroadcaster(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()
	r := New(bus, "")

	got := collect(t, r, ctx, "tab-2")
	require.NoError(t, r.StyleBroadcaster("tab-1").BroadcastStyle(ctx, domain.StyleOverride{SenderID: "u1", BubbleColor: "#111"}))

	select {
	case env := <-got:
		p, err := env.StyleChange()
		require.NoError(t, err)
		assert.Equal(t, "#111", p.Style.BubbleColor)
	case <-time.After(2 * time.Second):
		t.Fatal("style change not relayed")
	}
}
