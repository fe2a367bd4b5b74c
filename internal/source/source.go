// Package source defines the narrow interfaces between the engine and
// the places media signals come from: the OS session registry and the
// window title lister. Concrete implementations live in the mpris and
// xwin subpackages; tests substitute fakes.
package source

import (
	"context"

	"github.com/rainaku/vnotch/internal/media"
)

// EventKind says which signal group triggered a registry event.
type EventKind int

const (
	// EventSessions fires when the set of live sessions changed.
	EventSessions EventKind = iota
	// EventMedia fires when a session's track metadata changed.
	EventMedia
	// EventPlayback fires when playback status, position or rate changed.
	EventPlayback
	// EventTimeline fires on explicit timeline (seek) signals.
	EventTimeline
)

func (k EventKind) String() string {
	switch k {
	case EventSessions:
		return "sessions"
	case EventMedia:
		return "media"
	case EventPlayback:
		return "playback"
	case EventTimeline:
		return "timeline"
	default:
		return "unknown"
	}
}

// Event is one change notification from a registry.
type Event struct {
	Kind EventKind
	// SessionID identifies the session the event concerns; empty for
	// registry-wide events (EventSessions).
	SessionID string
}

// Session is a live media session owned by one application.
type Session interface {
	// ID returns a stable identifier for the session's owner, e.g. a
	// D-Bus bus name.
	ID() string
	// Snapshot reads the session's current state. A partially filled
	// snapshot with HasTrack() == false means metadata is not ready yet.
	Snapshot(ctx context.Context) (media.Snapshot, error)

	// Transport controls. Implementations return an error when the
	// session is gone or the control is not supported.
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SeekTo(ctx context.Context, positionUS int64) error
	CanGoNext() bool
	CanGoPrevious() bool
}

// Registry enumerates live sessions and reports changes.
type Registry interface {
	// Sessions lists the currently live sessions.
	Sessions(ctx context.Context) ([]Session, error)
	// Events returns the channel change notifications arrive on. The
	// channel is closed when the registry shuts down.
	Events() <-chan Event
	// Close releases watch resources.
	Close() error
}

// WindowLister enumerates top-level window titles. Used by the
// normalizer to recover real titles for sessions that only report
// generic ones.
type WindowLister interface {
	// Titles returns the visible top-level window titles, best effort.
	Titles(ctx context.Context) ([]string, error)
}
