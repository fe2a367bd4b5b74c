// Package mpris reads media sessions from MPRIS players on the D-Bus
// session bus. Every application owning an org.mpris.MediaPlayer2.*
// name is exposed as one session; bus signals are folded into registry
// events so the engine re-reads players only when something changed.
package mpris

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/source"
)

const (
	busPrefix       = "org.mpris.MediaPlayer2."
	objectPath      = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	propsInterface  = "org.freedesktop.DBus.Properties"

	eventBuffer  = 16
	signalBuffer = 32
)

// Registry discovers MPRIS players and reports their changes.
type Registry struct {
	conn *dbus.Conn
	log  zerolog.Logger

	events  chan source.Event
	signals chan *dbus.Signal

	mu       sync.Mutex
	sessions map[string]*session
	// owners maps unique bus names (":1.42") to session ids, because
	// signals carry only the unique name of their sender.
	owners map[string]string

	closeOnce sync.Once
}

// NewRegistry connects to the session bus and starts watching for
// player arrivals, departures and property changes.
func NewRegistry(log zerolog.Logger) (*Registry, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	r := &Registry{
		conn:     conn,
		log:      log.With().Str("component", "mpris").Logger(),
		events:   make(chan source.Event, eventBuffer),
		signals:  make(chan *dbus.Signal, signalBuffer),
		sessions: make(map[string]*session),
		owners:   make(map[string]string),
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchSender("org.freedesktop.DBus"),
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg0Namespace("org.mpris.MediaPlayer2"),
		},
		{
			dbus.WithMatchInterface(propsInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(objectPath),
		},
		{
			dbus.WithMatchInterface(playerInterface),
			dbus.WithMatchMember("Seeked"),
		},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe to bus signals: %w", err)
		}
	}

	conn.Signal(r.signals)
	go r.watch()
	return r, nil
}

// Sessions lists the players currently on the bus. Known players keep
// their session object so cached control capabilities survive between
// passes.
func (r *Registry) Sessions(ctx context.Context) ([]source.Session, error) {
	var names []string
	err := r.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[string]bool)
	out := make([]source.Session, 0, len(r.sessions))
	for _, name := range names {
		if !strings.HasPrefix(name, busPrefix) {
			continue
		}
		id := strings.TrimPrefix(name, busPrefix)
		live[id] = true
		s, ok := r.sessions[id]
		if !ok {
			s = newSession(r.conn, name, id)
			r.sessions[id] = s
			r.resolveOwner(name, id)
			r.log.Debug().Str("session", id).Msg("player appeared")
		}
		out = append(out, s)
	}

	for id := range r.sessions {
		if live[id] {
			continue
		}
		delete(r.sessions, id)
		for owner, oid := range r.owners {
			if oid == id {
				delete(r.owners, owner)
			}
		}
		r.log.Debug().Str("session", id).Msg("player gone")
	}
	return out, nil
}

// Events returns the change notification channel. It closes once the
// bus connection shuts down.
func (r *Registry) Events() <-chan source.Event {
	return r.events
}

// Close tears down the bus connection, which drains and closes the
// signal stream and with it the events channel.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
	})
	return err
}

// resolveOwner records which unique name owns a player name. Caller
// holds r.mu.
func (r *Registry) resolveOwner(name, id string) {
	var owner string
	if err := r.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner); err != nil {
		r.log.Debug().Err(err).Str("session", id).Msg("owner lookup failed")
		return
	}
	r.owners[owner] = id
}

func (r *Registry) watch() {
	defer close(r.events)
	for sig := range r.signals {
		switch sig.Name {
		case "org.freedesktop.DBus.NameOwnerChanged":
			r.ownerChanged(sig)
		case propsInterface + ".PropertiesChanged":
			r.propsChanged(sig)
		case playerInterface + ".Seeked":
			r.seeked(sig)
		}
	}
}

func (r *Registry) ownerChanged(sig *dbus.Signal) {
	if len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	if !strings.HasPrefix(name, busPrefix) {
		return
	}
	id := strings.TrimPrefix(name, busPrefix)

	r.mu.Lock()
	if oldOwner != "" {
		delete(r.owners, oldOwner)
	}
	if newOwner != "" {
		r.owners[newOwner] = id
		if _, ok := r.sessions[id]; !ok {
			r.sessions[id] = newSession(r.conn, name, id)
		}
		r.log.Debug().Str("session", id).Msg("player appeared")
	} else {
		delete(r.sessions, id)
		r.log.Debug().Str("session", id).Msg("player gone")
	}
	r.mu.Unlock()

	r.emit(source.Event{Kind: source.EventSessions, SessionID: id})
}

func (r *Registry) propsChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	if iface != playerInterface {
		return
	}
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	id, ok := r.sessionFor(sig.Sender)
	if !ok {
		// Signal from a player we have not attributed yet, likely a
		// missed arrival. Force a session listing instead of guessing.
		r.emit(source.Event{Kind: source.EventSessions})
		return
	}
	r.emit(source.Event{Kind: eventKindFor(changed), SessionID: id})
}

func (r *Registry) seeked(sig *dbus.Signal) {
	id, ok := r.sessionFor(sig.Sender)
	if !ok {
		return
	}
	r.emit(source.Event{Kind: source.EventTimeline, SessionID: id})
}

func (r *Registry) sessionFor(owner string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.owners[owner]
	return id, ok
}

func (r *Registry) emit(ev source.Event) {
	select {
	case r.events <- ev:
	default:
		// Consumer is behind; the pass draining it re-reads players
		// anyway, so a dropped tag costs nothing.
	}
}

// eventKindFor classifies a property change batch by its heaviest
// member.
func eventKindFor(changed map[string]dbus.Variant) source.EventKind {
	if _, ok := changed["Metadata"]; ok {
		return source.EventMedia
	}
	if _, ok := changed["PlaybackStatus"]; ok {
		return source.EventPlayback
	}
	if _, ok := changed["Rate"]; ok {
		return source.EventPlayback
	}
	if _, ok := changed["Position"]; ok {
		return source.EventTimeline
	}
	return source.EventPlayback
}
