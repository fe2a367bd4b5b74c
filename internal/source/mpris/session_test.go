package mpris

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

func TestSnapshotFromProps(t *testing.T) {
	props := map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant("Playing"),
		"Rate":           dbus.MakeVariant(1.25),
		"CanSeek":        dbus.MakeVariant(true),
		"Position":       dbus.MakeVariant(int64(65_000_000)),
		"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
			"xesam:title":  dbus.MakeVariant("Paranoid Android"),
			"xesam:artist": dbus.MakeVariant([]string{"Radiohead"}),
			"xesam:album":  dbus.MakeVariant("OK Computer"),
			"mpris:length": dbus.MakeVariant(int64(387_000_000)),
			"mpris:artUrl": dbus.MakeVariant("https://i.scdn.co/image/abc123"),
		}),
	}

	snap := snapshotFromProps(props)

	if snap.Track != "Paranoid Android" {
		t.Errorf("Track = %q", snap.Track)
	}
	if snap.Artist != "Radiohead" {
		t.Errorf("Artist = %q", snap.Artist)
	}
	if snap.Album != "OK Computer" {
		t.Errorf("Album = %q", snap.Album)
	}
	if snap.ArtURL != "https://i.scdn.co/image/abc123" {
		t.Errorf("ArtURL = %q", snap.ArtURL)
	}
	if !snap.Playing {
		t.Error("Playing = false")
	}
	if snap.Rate != 1.25 {
		t.Errorf("Rate = %v", snap.Rate)
	}
	if !snap.CanSeek {
		t.Error("CanSeek = false")
	}
	if snap.Position != 65*time.Second {
		t.Errorf("Position = %v", snap.Position)
	}
	if snap.Duration != 387*time.Second {
		t.Errorf("Duration = %v", snap.Duration)
	}
}

func TestSnapshotFromEmptyProps(t *testing.T) {
	snap := snapshotFromProps(map[string]dbus.Variant{})

	if snap.HasTrack() {
		t.Errorf("empty properties produced a track: %q", snap.Track)
	}
	if snap.Playing {
		t.Error("Playing = true")
	}
	if snap.Rate != 1.0 {
		t.Errorf("Rate = %v, want the 1.0 fallback", snap.Rate)
	}
	if snap.Duration != 0 {
		t.Errorf("Duration = %v", snap.Duration)
	}
}

func TestMetaStringForms(t *testing.T) {
	tests := []struct {
		name string
		val  interface{}
		want string
	}{
		{"plain string", "Solo Artist", "Solo Artist"},
		{"string slice", []string{"A", "B"}, "A, B"},
		{"string slice with empties", []string{"", "A", ""}, "A"},
		{"interface slice", []interface{}{"A", "B"}, "A, B"},
		{"interface slice mixed", []interface{}{"A", 7, ""}, "A"},
		{"wrong type", int64(9), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := map[string]dbus.Variant{"xesam:artist": dbus.MakeVariant(tt.val)}
			if got := metaString(meta, "xesam:artist"); got != tt.want {
				t.Errorf("metaString(%v) = %q, want %q", tt.val, got, tt.want)
			}
		})
	}

	if got := metaString(nil, "xesam:artist"); got != "" {
		t.Errorf("metaString(nil) = %q", got)
	}
}

func TestDurationUS(t *testing.T) {
	tests := []struct {
		name string
		val  interface{}
		want time.Duration
	}{
		{"int64", int64(1_500_000), 1500 * time.Millisecond},
		{"uint64", uint64(2_000_000), 2 * time.Second},
		{"int32", int32(500_000), 500 * time.Millisecond},
		{"uint32", uint32(250_000), 250 * time.Millisecond},
		{"float64", 1_500_000.0, 1500 * time.Millisecond},
		{"nested variant", dbus.MakeVariant(int64(1_000_000)), time.Second},
		{"nil", nil, 0},
		{"string", "garbage", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := durationUS(tt.val); got != tt.want {
				t.Errorf("durationUS(%v) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestTrackIDOf(t *testing.T) {
	meta := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath("/org/mpris/MediaPlayer2/Track/42")),
	}
	id, ok := trackIDOf(meta)
	if !ok || id != "/org/mpris/MediaPlayer2/Track/42" {
		t.Errorf("trackIDOf = %q, %v", id, ok)
	}

	meta["mpris:trackid"] = dbus.MakeVariant("/track/as/string")
	id, ok = trackIDOf(meta)
	if !ok || id != "/track/as/string" {
		t.Errorf("trackIDOf(string) = %q, %v", id, ok)
	}

	if _, ok := trackIDOf(nil); ok {
		t.Error("trackIDOf(nil) = ok")
	}
}
