package mpris

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"

	"github.com/rainaku/vnotch/internal/media"
)

// session wraps one MPRIS player. Control capabilities are cached from
// the last snapshot so the capability getters never touch the bus.
type session struct {
	name string
	id   string
	obj  dbus.BusObject

	mu      sync.Mutex
	canNext bool
	canPrev bool
}

func newSession(conn *dbus.Conn, name, id string) *session {
	return &session{
		name: name,
		id:   id,
		obj:  conn.Object(name, objectPath),
	}
}

func (s *session) ID() string {
	return s.id
}

// Snapshot reads all player properties in one round trip.
func (s *session) Snapshot(ctx context.Context) (media.Snapshot, error) {
	var props map[string]dbus.Variant
	err := s.obj.CallWithContext(ctx, propsInterface+".GetAll", 0, playerInterface).Store(&props)
	if err != nil {
		return media.Snapshot{}, fmt.Errorf("read player properties: %w", err)
	}

	snap := snapshotFromProps(props)
	snap.SessionID = s.id
	snap.SampledAt = time.Now()

	if _, ok := props["Position"]; !ok && snap.Playing {
		// Some players leave Position out of GetAll.
		var v dbus.Variant
		if err := s.obj.CallWithContext(ctx, propsInterface+".Get", 0, playerInterface, "Position").Store(&v); err == nil {
			snap.Position = durationUS(v.Value())
		}
	}

	s.mu.Lock()
	s.canNext = boolProp(props, "CanGoNext")
	s.canPrev = boolProp(props, "CanGoPrevious")
	s.mu.Unlock()

	return snap, nil
}

func (s *session) Play(ctx context.Context) error {
	return s.call(ctx, "Play")
}

func (s *session) Pause(ctx context.Context) error {
	return s.call(ctx, "Pause")
}

func (s *session) Next(ctx context.Context) error {
	return s.call(ctx, "Next")
}

func (s *session) Previous(ctx context.Context) error {
	return s.call(ctx, "Previous")
}

// SeekTo moves playback to an absolute position. MPRIS only offers
// SetPosition keyed by the current track id; players without one get a
// relative Seek computed against their reported position.
func (s *session) SeekTo(ctx context.Context, positionUS int64) error {
	var v dbus.Variant
	err := s.obj.CallWithContext(ctx, propsInterface+".Get", 0, playerInterface, "Metadata").Store(&v)
	if err == nil {
		meta, _ := v.Value().(map[string]dbus.Variant)
		if trackID, ok := trackIDOf(meta); ok {
			call := s.obj.CallWithContext(ctx, playerInterface+".SetPosition", 0, trackID, positionUS)
			if call.Err != nil {
				return fmt.Errorf("%s set position: %w", s.id, call.Err)
			}
			return nil
		}
	}

	var pos dbus.Variant
	if err := s.obj.CallWithContext(ctx, propsInterface+".Get", 0, playerInterface, "Position").Store(&pos); err != nil {
		return fmt.Errorf("%s read position: %w", s.id, err)
	}
	offset := positionUS - durationUS(pos.Value()).Microseconds()
	call := s.obj.CallWithContext(ctx, playerInterface+".Seek", 0, offset)
	if call.Err != nil {
		return fmt.Errorf("%s seek: %w", s.id, call.Err)
	}
	return nil
}

func (s *session) CanGoNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canNext
}

func (s *session) CanGoPrevious() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canPrev
}

func (s *session) call(ctx context.Context, method string) error {
	call := s.obj.CallWithContext(ctx, playerInterface+"."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("%s %s: %w", s.id, strings.ToLower(method), call.Err)
	}
	return nil
}

func snapshotFromProps(props map[string]dbus.Variant) media.Snapshot {
	snap := media.Snapshot{
		Playing:  stringProp(props, "PlaybackStatus") == "Playing",
		Rate:     floatProp(props, "Rate", 1.0),
		CanSeek:  boolProp(props, "CanSeek"),
		Position: durationUS(props["Position"].Value()),
	}

	meta, _ := props["Metadata"].Value().(map[string]dbus.Variant)
	snap.Track = metaString(meta, "xesam:title")
	snap.Artist = metaString(meta, "xesam:artist")
	snap.Album = metaString(meta, "xesam:album")
	snap.ArtURL = metaString(meta, "mpris:artUrl")
	snap.Duration = durationUS(meta["mpris:length"].Value())
	return snap
}

func trackIDOf(meta map[string]dbus.Variant) (dbus.ObjectPath, bool) {
	switch x := meta["mpris:trackid"].Value().(type) {
	case dbus.ObjectPath:
		return x, x != ""
	case string:
		return dbus.ObjectPath(x), x != ""
	}
	return "", false
}

// metaString reads a metadata entry that players encode either as a
// plain string or as a list of strings.
func metaString(meta map[string]dbus.Variant, key string) string {
	switch x := meta[key].Value().(type) {
	case string:
		return x
	case []string:
		return strings.Join(lo.Compact(x), ", ")
	case []interface{}:
		return strings.Join(lo.FilterMap(x, func(e interface{}, _ int) (string, bool) {
			s, ok := e.(string)
			return s, ok && s != ""
		}), ", ")
	}
	return ""
}

// durationUS converts an MPRIS microsecond value to a Duration. The
// spec says int64 but players ship everything from uint64 to double.
func durationUS(v interface{}) time.Duration {
	switch x := v.(type) {
	case int64:
		return time.Duration(x) * time.Microsecond
	case uint64:
		return time.Duration(x) * time.Microsecond
	case int32:
		return time.Duration(x) * time.Microsecond
	case uint32:
		return time.Duration(x) * time.Microsecond
	case int:
		return time.Duration(x) * time.Microsecond
	case float64:
		return time.Duration(x * float64(time.Microsecond))
	case dbus.Variant:
		return durationUS(x.Value())
	}
	return 0
}

func stringProp(props map[string]dbus.Variant, key string) string {
	s, _ := props[key].Value().(string)
	return s
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	b, _ := props[key].Value().(bool)
	return b
}

func floatProp(props map[string]dbus.Variant, key string, fallback float64) float64 {
	if f, ok := props[key].Value().(float64); ok {
		return f
	}
	return fallback
}
