package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction represents the type of change in a live query update
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
)

// LiveQueryHandler is called when live query data changes. Calls for one
// subscription are sequential, in server order.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryService runs SurrealDB LIVE SELECT subscriptions.
type LiveQueryService struct {
	db            DBConnection
	subscriptions sync.Map // map[string]*Subscription
}

// Subscription is an active live query. Close is safe to call from inside
// its own handler.
type Subscription struct {
	ID          string
	Table       string
	liveQueryID string
	cancel      context.CancelFunc
	service     *LiveQueryService
	once        sync.Once
}

// NewLiveQueryService creates a new live query service.
func NewLiveQueryService(db DBConnection) *LiveQueryService {
	return &LiveQueryService{db: db}
}

// Subscribe starts a LIVE SELECT query. The query must begin with
// "LIVE SELECT".
func (s *LiveQueryService) Subscribe(ctx context.Context, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrInvalidInput)
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "LIVE SELECT") {
		return nil, fmt.Errorf("%w: query must start with 'LIVE SELECT', got: %s", ErrInvalidInput, query)
	}
	if params == nil {
		params = make(map[string]any)
	}

	sub := &Subscription{
		ID:      uuid.New().String(),
		Table:   extractTableFromQuery(query),
		service: s,
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel

	err := s.db.WithConnection(ctx, func(dbConn *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, dbConn, query, params)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return fmt.Errorf("live query returned no results")
		}

		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}
		id, err := liveQueryID(result.Result)
		if err != nil {
			return err
		}
		sub.liveQueryID = id

		notifications, err := dbConn.LiveNotifications(id)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		go s.listen(subCtx, sub, notifications, handler)
		go s.cleanupOnCancel(subCtx, dbConn, sub)
		return nil
	})
	if err != nil {
		cancel()
		return nil, NewDBError(err, "failed to start live query").WithQuery(query)
	}

	s.subscriptions.Store(sub.ID, sub)
	slog.DebugContext(ctx, "Live query established", "subID", sub.ID, "table", sub.Table, "liveQueryID", sub.liveQueryID)
	return sub, nil
}

// Unsubscribe stops a subscription by id.
func (s *LiveQueryService) Unsubscribe(subID string) error {
	if v, ok := s.subscriptions.Load(subID); ok {
		return v.(*Subscription).Close()
	}
	return nil
}

// Close stops every subscription.
func (s *LiveQueryService) Close() {
	s.subscriptions.Range(func(_, v any) bool {
		_ = v.(*Subscription).Close()
		return true
	})
}

// Close stops the subscription. The server-side KILL runs in the background
// so Close never blocks on the network.
func (sub *Subscription) Close() error {
	sub.once.Do(func() {
		sub.cancel()
		sub.service.subscriptions.Delete(sub.ID)
	})
	return nil
}

func (s *LiveQueryService) cleanupOnCancel(ctx context.Context, dbConn *surrealdb.DB, sub *Subscription) {
	<-ctx.Done()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dbConn.CloseLiveNotifications(sub.liveQueryID); err != nil {
		slog.Warn("Failed to close live notifications", "error", err, "liveQueryID", sub.liveQueryID)
	}

	_, err := surrealdb.Query[any](cleanupCtx, dbConn, "KILL $liveQueryID", map[string]any{
		"liveQueryID": sub.liveQueryID,
	})
	if err != nil {
		slog.Warn("Failed to kill live query", "error", err, "liveQueryID", sub.liveQueryID)
		return
	}
	slog.Debug("Killed live query", "liveQueryID", sub.liveQueryID)
}

// listen delivers notifications one at a time, in order.
func (s *LiveQueryService) listen(ctx context.Context, sub *Subscription, notifications <-chan connection.Notification, handler LiveQueryHandler) {
	for {
		select {
		case <-ctx.Done():
			return

		case notification, ok := <-notifications:
			if !ok {
				slog.Debug("Live query notification channel closed", "subID", sub.ID)
				return
			}

			var action LiveQueryAction
			switch notification.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				slog.Warn("Unknown notification action", "subID", sub.ID, "action", notification.Action)
				continue
			}

			if ctx.Err() != nil {
				return
			}
			s.dispatch(ctx, sub, handler, action, notification.Result)
		}
	}
}

func (s *LiveQueryService) dispatch(ctx context.Context, sub *Subscription, handler LiveQueryHandler, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in live query handler", "subID", sub.ID, "panic", r)
		}
	}()
	handler(ctx, action, data)
}

// liveQueryID extracts the UUID returned by a LIVE SELECT statement.
func liveQueryID(result any) (string, error) {
	var id string
	switch v := result.(type) {
	case string:
		id = v
	case models.UUID:
		id = v.String()
	case *models.UUID:
		if v != nil {
			id = v.String()
		}
	case map[string]any:
		if s, ok := v["id"].(string); ok {
			id = s
		} else if u, ok := v["id"].(models.UUID); ok {
			id = u.String()
		} else {
			return "", fmt.Errorf("live query result map does not contain 'id' field: %+v", v)
		}
	default:
		return "", fmt.Errorf("unexpected live query result type: %T", result)
	}
	if id == "" {
		return "", fmt.Errorf("live query returned empty UUID")
	}
	return id, nil
}

// extractTableFromQuery returns the word after FROM.
func extractTableFromQuery(query string) string {
	parts := strings.Fields(query)
	for i, part := range parts {
		if strings.ToUpper(part) == "FROM" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "unknown"
}
