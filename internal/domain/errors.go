package domain

import (
	"errors"
	"fmt"

	"github.com/nfrund/chatsync/internal/scope"
)

// Sentinel errors for the sync engine. Transport and database failures are
// converted to these at the engine boundary so callers can use errors.Is.
var (
	ErrInvalidScope     = scope.ErrInvalidScope
	ErrSubscription     = errors.New("push subscription failed")
	ErrMessagingBlocked = errors.New("messaging is blocked between these users")
	ErrPersistFailure   = errors.New("message could not be saved")
	ErrDependencyRepair = errors.New("sender profile could not be provisioned")
	ErrEmptyMessage     = errors.New("message body is empty")
	ErrMessageTooLong   = errors.New("message body is too long")
	ErrNotFound         = errors.New("requested resource not found")
	ErrScopeClosed      = errors.New("scope handle is closed")
	ErrNoViewer         = errors.New("a signed-in viewer is required to send")
)

// SubscriptionError reports a push subscription that could not be opened.
// It is non-fatal: the engine falls back to polling for the scope.
type SubscriptionError struct {
	Scope scope.Key
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Scope, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSubscription) match.
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}

// DependencyRepairError is returned when the sender profile could not be
// auto-provisioned. A send cannot proceed without it, so it also matches
// ErrPersistFailure.
type DependencyRepairError struct {
	UserID string
	Err    error
}

func (e *DependencyRepairError) Error() string {
	return fmt.Sprintf("ensure profile for %s: %v", e.UserID, e.Err)
}

func (e *DependencyRepairError) Unwrap() error { return e.Err }

func (e *DependencyRepairError) Is(target error) bool {
	return target == ErrDependencyRepair || target == ErrPersistFailure
}
