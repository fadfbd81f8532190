package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsync/internal/app"
	"github.com/nfrund/chatsync/internal/engine"
	"github.com/nfrund/chatsync/internal/handlers"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/middleware"
	"github.com/nfrund/chatsync/internal/pubsub"
	"github.com/nfrund/chatsync/internal/relay"
	"github.com/nfrund/chatsync/internal/testutils"
)

type unhealthy struct{}

func (unhealthy) IsHealthy() bool { return false }

func newTestServer(t *testing.T, opts Options) (*Server, *testutils.MemBackend) {
	t.Helper()
	metrics.Init()
	b := testutils.NewMemBackend()
	bus := pubsub.NewWatermillBridge()
	tabs := app.NewTabs(engine.Dependencies{
		Messages: b, Inserts: b, Styles: b, Profiles: b, Blocks: b,
		Relay: relay.New(bus, "test.relay"),
	}, engine.WithoutStyleWatch())
	t.Cleanup(func() {
		_ = tabs.Close()
		_ = bus.Close()
	})
	opts.Engines = tabs
	return New(opts), b
}

func request(s *Server, method, target, viewer, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if viewer != "" {
		req.Header.Set(middleware.HeaderUserID, viewer)
	}
	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestListMessages(t *testing.T) {
	s, b := newTestServer(t, Options{})
	b.Seed("room:r1", "troll", "spam")
	b.Seed("room:r1", "friend", "hi")
	b.Block("me", "troll")

	rec := request(s, http.MethodGet, "/api/v1/messages?room_id=r1", "me", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[handlers.MessagesResponse](t, rec)
	assert.Equal(t, "room:r1", string(resp.Scope))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Body)

	rec = request(s, http.MethodGet, "/api/v1/messages?room_id=r1&stream_id=s1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = request(s, http.MethodGet, "/api/v1/messages", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessages_HistoryUnavailable(t *testing.T) {
	s, b := newTestServer(t, Options{})
	b.FailLists(assert.AnError, assert.AnError)

	rec := request(s, http.MethodGet, "/api/v1/messages?stream_id=s1", "", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "history_unavailable", decode[handlers.ErrorResponse](t, rec).Code)
}

func TestSendMessage(t *testing.T) {
	s, b := newTestServer(t, Options{})

	rec := request(s, http.MethodPost, "/api/v1/messages", "", `{"room_id":"r1","body":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = request(s, http.MethodPost, "/api/v1/messages", "me", `{"room_id":"r1","body":"gg"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[handlers.MessageResponse](t, rec)
	assert.Equal(t, "gg", msg.Body)
	assert.Equal(t, "me", msg.SenderID)
	assert.False(t, msg.Pending)
	assert.Len(t, b.Rows(), 1)
	assert.True(t, b.HasProfile("me"))

	rec = request(s, http.MethodPost, "/api/v1/messages", "me", `{"room_id":"r1","body":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_message", decode[handlers.ErrorResponse](t, rec).Code)

	rec = request(s, http.MethodPost, "/api/v1/messages", "me", `{"room_id":"r1","body":"`+strings.Repeat("é", 501)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message_too_long", decode[handlers.ErrorResponse](t, rec).Code)
}

func TestSendMessage_Failures(t *testing.T) {
	s, b := newTestServer(t, Options{})
	b.Block("host", "me")

	rec := request(s, http.MethodPost, "/api/v1/messages", "me", `{"stream_id":"s1","owner_id":"host","body":"hi"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "blocked", decode[handlers.ErrorResponse](t, rec).Code)

	b.FailInserts(assert.AnError)
	rec = request(s, http.MethodPost, "/api/v1/messages", "me", `{"room_id":"r1","body":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "persist_failed", decode[handlers.ErrorResponse](t, rec).Code)
}

func TestSaveStyle(t *testing.T) {
	s, b := newTestServer(t, Options{})
	b.Seed("room:r1", "me", "hello")

	rec := request(s, http.MethodPut, "/api/v1/styles/me", "me", `{"bubble_color":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = request(s, http.MethodPut, "/api/v1/styles/me", "", `{"bubble_color":"#00f"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = request(s, http.MethodPut, "/api/v1/styles/me", "me", `{"bubble_color":"#00f","font":"mono"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = request(s, http.MethodGet, "/api/v1/messages?room_id=r1", "", "")
	resp := decode[handlers.MessagesResponse](t, rec)
	require.Len(t, resp.Messages, 1)
	require.NotNil(t, resp.Messages[0].Style)
	assert.Equal(t, "#00f", resp.Messages[0].Style.BubbleColor)
	assert.Equal(t, "mono", resp.Messages[0].Style.Font)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := request(s, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Engines)
	require.NotNil(t, health.Shared)

	rec = request(s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatsync_http_requests_total")
	assert.Contains(t, rec.Body.String(), "chatsync_scopes_open")

	down, _ := newTestServer(t, Options{Health: unhealthy{}})
	rec = request(down, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[handlers.HealthResponse](t, rec).Status)
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, query, viewer string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{middleware.HeaderUserID: []string{viewer}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, match func(handlers.ServerFrame) bool) handlers.ServerFrame {
	t.Helper()
	for {
		var f handlers.ServerFrame
		require.NoError(t, wsjson.Read(ctx, c, &f))
		if match(f) {
			return f
		}
	}
}

func TestSocket_TwoTabsSeeOneMessage(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	srv := httptest.NewServer(s.E)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tab1 := dial(t, ctx, srv, "room_id=r1", "me")
	tab2 := dial(t, ctx, srv, "room_id=r1", "me")
	for _, c := range []*websocket.Conn{tab1, tab2} {
		first := readUntil(t, ctx, c, func(f handlers.ServerFrame) bool { return f.Type == "snapshot" })
		assert.Equal(t, "room:r1", string(first.Scope))
		assert.True(t, first.Live)
	}

	require.NoError(t, wsjson.Write(ctx, tab1, handlers.ClientFrame{Type: "send", Body: "gg"}))
	sent := readUntil(t, ctx, tab1, func(f handlers.ServerFrame) bool { return f.Type == "sent" })
	require.NotNil(t, sent.Message)

	snap := readUntil(t, ctx, tab2, func(f handlers.ServerFrame) bool {
		return f.Type == "snapshot" && len(f.Messages) > 0
	})
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, sent.Message.ID, snap.Messages[0].ID)
	assert.Equal(t, "gg", snap.Messages[0].Body)
}

func TestSocket_BadFramesAndErrors(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	srv := httptest.NewServer(s.E)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, srv, "stream_id=s1", "me")
	readUntil(t, ctx, c, func(f handlers.ServerFrame) bool { return f.Type == "snapshot" })

	require.NoError(t, wsjson.Write(ctx, c, handlers.ClientFrame{Type: "shout"}))
	bad := readUntil(t, ctx, c, func(f handlers.ServerFrame) bool { return f.Type == "error" })
	assert.Equal(t, "bad_frame", bad.Error.Code)

	require.NoError(t, wsjson.Write(ctx, c, handlers.ClientFrame{Type: "send", Body: " "}))
	empty := readUntil(t, ctx, c, func(f handlers.ServerFrame) bool { return f.Type == "error" })
	assert.Equal(t, "empty_message", empty.Error.Code)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
}

func TestSocket_RejectsInvalidScope(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := request(s, http.MethodGet, "/ws?room_id=r1&stream_id=s1", "me", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
