// Package scope turns caller-supplied room/stream identifiers into a single
// canonical chat scope key. A scope is either a room or a live stream, never
// both and never neither.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidScope is returned when zero or two scope identifiers are supplied.
var ErrInvalidScope = errors.New("exactly one of room id or stream id must be set")

// Kind identifies which chat surface a key refers to.
type Kind string

const (
	KindRoom   Kind = "room"
	KindStream Kind = "stream"
)

// Key is the stable, comparable identity of a chat scope ("room:<id>" or
// "stream:<id>"). It is the subscription and dedup key.
type Key string

// Resolve returns the canonical key for the given identifiers.
func Resolve(roomID, streamID string) (Key, error) {
	roomID = strings.TrimSpace(roomID)
	streamID = strings.TrimSpace(streamID)

	switch {
	case roomID != "" && streamID != "":
		return "", fmt.Errorf("%w: got room %q and stream %q", ErrInvalidScope, roomID, streamID)
	case roomID != "":
		return Key(string(KindRoom) + ":" + roomID), nil
	case streamID != "":
		return Key(string(KindStream) + ":" + streamID), nil
	default:
		return "", ErrInvalidScope
	}
}

// Parse validates a key produced by Resolve (for example one received over
// the wire) and returns it typed.
func Parse(s string) (Key, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: malformed key %q", ErrInvalidScope, s)
	}
	switch Kind(kind) {
	case KindRoom:
		return Resolve(id, "")
	case KindStream:
		return Resolve("", id)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, kind)
	}
}

// Kind returns the scope kind encoded in the key.
func (k Key) Kind() Kind {
	kind, _, _ := strings.Cut(string(k), ":")
	return Kind(kind)
}

// ID returns the room or stream identifier without the kind prefix.
func (k Key) ID() string {
	_, id, _ := strings.Cut(string(k), ":")
	return id
}

// RoomID returns the room identifier, or "" for stream scopes.
func (k Key) RoomID() string {
	if k.Kind() == KindRoom {
		return k.ID()
	}
	return ""
}

// StreamID returns the stream identifier, or "" for room scopes.
func (k Key) StreamID() string {
	if k.Kind() == KindStream {
		return k.ID()
	}
	return ""
}

func (k Key) String() string { return string(k) }
