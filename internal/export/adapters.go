package export

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/types"

	"github.com/rainaku/vnotch/internal/media"
)

// rootAdapter implements OrgMprisMediaPlayer2Adapter.
type rootAdapter struct{}

func (r *rootAdapter) Raise() error {
	return nil
}

func (r *rootAdapter) Quit() error {
	return nil
}

func (r *rootAdapter) CanQuit() (bool, error) {
	return false, nil
}

func (r *rootAdapter) CanRaise() (bool, error) {
	return false, nil
}

func (r *rootAdapter) HasTrackList() (bool, error) {
	return false, nil
}

func (r *rootAdapter) Identity() (string, error) {
	return "vnotch", nil
}

//nolint:revive // Method name required by interface.
func (r *rootAdapter) SupportedUriSchemes() ([]string, error) {
	return []string{}, nil
}

func (r *rootAdapter) SupportedMimeTypes() ([]string, error) {
	return []string{}, nil
}

// playerAdapter implements OrgMprisMediaPlayer2PlayerAdapter on top of
// the engine's published state and controls.
type playerAdapter struct {
	player Player
}

func (p *playerAdapter) Next() error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.Next(ctx)
}

func (p *playerAdapter) Previous() error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.Previous(ctx)
}

func (p *playerAdapter) Pause() error {
	if !p.player.State().Playing {
		return nil
	}
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.PlayPause(ctx)
}

func (p *playerAdapter) PlayPause() error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.PlayPause(ctx)
}

func (p *playerAdapter) Stop() error {
	return p.Pause()
}

func (p *playerAdapter) Play() error {
	if p.player.State().Playing {
		return nil
	}
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.PlayPause(ctx)
}

func (p *playerAdapter) Seek(offset types.Microseconds) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.SeekBy(ctx, time.Duration(offset)*time.Microsecond)
}

func (p *playerAdapter) SetPosition(_ string, position types.Microseconds) error {
	ctx, cancel := p.ctx()
	defer cancel()
	return p.player.SeekTo(ctx, time.Duration(position)*time.Microsecond)
}

//nolint:revive // Method name required by interface.
func (p *playerAdapter) OpenUri(_ string) error {
	return nil
}

func (p *playerAdapter) PlaybackStatus() (types.PlaybackStatus, error) {
	st := p.player.State()
	switch {
	case st.Playing:
		return types.PlaybackStatusPlaying, nil
	case st.State.IsActive():
		return types.PlaybackStatusPaused, nil
	default:
		return types.PlaybackStatusStopped, nil
	}
}

func (p *playerAdapter) Rate() (float64, error) {
	if r := p.player.State().Rate; r > 0 {
		return r, nil
	}
	return 1.0, nil
}

func (p *playerAdapter) SetRate(_ float64) error {
	return nil
}

func (p *playerAdapter) Metadata() (types.Metadata, error) {
	st := p.player.State()
	if !st.HasTrack() {
		return types.Metadata{}, nil
	}

	meta := types.Metadata{
		TrackId: dbus.ObjectPath(trackID(st)),
		Length:  types.Microseconds(st.Duration.Microseconds()),
		Title:   st.Track,
		Album:   st.Album,
	}

	switch {
	case st.Artist != "":
		meta.Artist = []string{st.Artist}
	case st.VideoAuthor != "":
		meta.Artist = []string{st.VideoAuthor}
	}

	switch {
	case st.ArtworkPath != "":
		meta.ArtUrl = "file://" + st.ArtworkPath
	case st.ArtURL != "":
		meta.ArtUrl = st.ArtURL
	}

	return meta, nil
}

func (p *playerAdapter) Volume() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) SetVolume(_ float64) error {
	return nil
}

func (p *playerAdapter) Position() (int64, error) {
	return p.player.State().PositionAt(time.Now()).Microseconds(), nil
}

func (p *playerAdapter) MinimumRate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) MaximumRate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) CanGoNext() (bool, error) {
	return p.player.State().SessionID != "", nil
}

func (p *playerAdapter) CanGoPrevious() (bool, error) {
	return p.player.State().SessionID != "", nil
}

func (p *playerAdapter) CanPlay() (bool, error) {
	return p.player.State().SessionID != "", nil
}

func (p *playerAdapter) CanPause() (bool, error) {
	return p.player.State().SessionID != "", nil
}

func (p *playerAdapter) CanSeek() (bool, error) {
	return p.player.State().CanSeek, nil
}

func (p *playerAdapter) CanControl() (bool, error) {
	return true, nil
}

func (p *playerAdapter) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), controlTimeout)
}

func trackID(st media.PublishedState) string {
	h := fnv.New64a()
	h.Write([]byte(st.Signature()))
	return fmt.Sprintf("/org/mpris/MediaPlayer2/Track/%x", h.Sum64())
}
