package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/chatsync/internal/engine"
	"github.com/nfrund/chatsync/internal/middleware"
)

const writeTimeout = 5 * time.Second

// SocketHandler mounts one scope per WebSocket connection. Every connection
// is a tab with its own engine, so two sockets of the same viewer behave
// like two browser tabs.
type SocketHandler struct {
	engines  Engines
	origins  []string
	validate *validator.Validate
}

// NewSocketHandler creates a SocketHandler accepting the given origin
// patterns. No patterns means same-origin only.
func NewSocketHandler(engines Engines, origins []string) *SocketHandler {
	return &SocketHandler{engines: engines, origins: origins, validate: validator.New()}
}

// Serve handles GET /ws.
func (h *SocketHandler) Serve(c echo.Context) error {
	var req ScopeQuery
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query").SetInternal(err)
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	viewer, _ := middleware.ViewerFrom(c)
	logger := middleware.FromContext(c.Request().Context())

	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written the response.
		logger.Warn("WebSocket handshake failed", "error", err)
		return nil
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	tab, err := h.engines.Open(ctx)
	if err != nil {
		ws.Close(websocket.StatusTryAgainLater, "engine unavailable")
		return nil
	}
	defer func() { _ = h.engines.Release(tab) }()

	handle, err := tab.OpenScope(ctx, engine.OpenRequest{
		RoomID:   req.RoomID,
		StreamID: req.StreamID,
		Viewer:   viewer,
		OwnerID:  req.OwnerID,
	})
	if err != nil {
		ws.Close(websocket.StatusPolicyViolation, err.Error())
		return nil
	}
	defer handle.Close()

	s := &session{conn: ws, handle: handle, validate: h.validate}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.pushSnapshots(ctx); err != nil && ctx.Err() == nil {
			logger.Debug("Snapshot writer stopped", "error", err)
		}
		cancel()
	}()

	err = s.readLoop(ctx)
	cancel()
	<-done

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		ws.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled):
	default:
		logger.Debug("Socket closed", "scope", handle.Key(), "error", err)
	}
	return nil
}

type session struct {
	conn     *websocket.Conn
	handle   *engine.ScopeHandle
	validate *validator.Validate
}

func (s *session) write(ctx context.Context, frame ServerFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, frame)
}

// pushSnapshots sends the visible messages now and after every change.
func (s *session) pushSnapshots(ctx context.Context) error {
	var sent uint64
	first := true
	for {
		if v := s.handle.Version(); first || v != sent {
			first, sent = false, v
			if err := s.write(ctx, s.snapshot(v)); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.handle.Changes():
		}
	}
}

func (s *session) snapshot(version uint64) ServerFrame {
	frame := ServerFrame{
		Type:     "snapshot",
		Scope:    s.handle.Key(),
		Version:  version,
		Live:     s.handle.Live(),
		Draft:    s.handle.Draft(),
		Messages: NewMessageList(s.handle.Messages()),
	}
	if err := s.handle.LoadErr(); err != nil {
		frame.LoadError = err.Error()
	}
	return frame
}

// readLoop applies client frames until the connection or ctx ends.
func (s *session) readLoop(ctx context.Context) error {
	for {
		var frame ClientFrame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			return err
		}
		if err := s.validate.Struct(frame); err != nil {
			if err := s.write(ctx, ServerFrame{Type: "error", Error: &ErrorResponse{Code: "bad_frame", Message: err.Error()}}); err != nil {
				return err
			}
			continue
		}

		switch frame.Type {
		case "draft":
			s.handle.SetDraft(frame.Body)
		case "reload":
			if err := s.handle.Reload(ctx); err != nil {
				if err := s.write(ctx, ServerFrame{Type: "error", Error: frameError(err)}); err != nil {
					return err
				}
			}
		case "send":
			row, err := s.handle.Send(ctx, frame.Body)
			out := ServerFrame{Type: "sent"}
			if err != nil {
				out = ServerFrame{Type: "error", Error: frameError(err), Draft: s.handle.Draft()}
			} else {
				msg := NewMessageResponse(row)
				out.Message = &msg
			}
			if err := s.write(ctx, out); err != nil {
				return err
			}
		}
	}
}
