package media

import "time"

// PublishedState is the externally visible playback state. The engine
// replaces it atomically after each reconciliation pass; consumers see
// either the old or the new value, never a partial mix.
//
// Position is the predicted position at PublishedAt. PositionAt
// extrapolates it forward for live display, so consumers never need to
// poll the engine between passes.
type PublishedState struct {
	Track     string
	Artist    string
	Album     string
	Source    string
	SessionID string

	// Enrichment results (best effort, may lag the track by seconds).
	VideoID     string
	VideoAuthor string
	ArtURL      string
	ArtworkPath string

	Position      time.Duration
	Duration      time.Duration
	Rate          float64
	State         ProgressState
	Playing       bool
	CanSeek       bool
	Throttled     bool
	Indeterminate bool

	PublishedAt time.Time
}

// Signature returns the track signature of the published state.
func (p PublishedState) Signature() string {
	return Signature(p.Track, p.Artist, p.Source)
}

// HasTrack reports whether anything displayable is attached.
func (p PublishedState) HasTrack() bool {
	return p.Track != ""
}

// PositionAt returns the position to display at the given instant:
// the anchored position advanced by wall-clock time while playing,
// clamped to [0, Duration] unless the duration is indeterminate.
// For a fixed signature this is non-decreasing in now while playing.
func (p PublishedState) PositionAt(now time.Time) time.Duration {
	pos := p.Position
	if p.State.Advancing() && now.After(p.PublishedAt) {
		elapsed := now.Sub(p.PublishedAt)
		rate := p.Rate
		if rate <= 0 {
			rate = 1.0
		}
		pos += time.Duration(float64(elapsed) * rate)
	}
	if pos < 0 {
		pos = 0
	}
	if !p.Indeterminate && p.Duration > 0 && pos > p.Duration {
		pos = p.Duration
	}
	return pos
}

// ProgressRatioAt returns PositionAt/Duration in [0, 1], or 0 while
// indeterminate.
func (p PublishedState) ProgressRatioAt(now time.Time) float64 {
	if p.Indeterminate || p.Duration <= 0 {
		return 0
	}
	r := float64(p.PositionAt(now)) / float64(p.Duration)
	if r > 1 {
		return 1
	}
	return r
}

// DiffersFrom reports whether the state is materially different from a
// previously published one: a change a consumer would want to redraw
// for. Small position drift below posJump does not count; everything
// identity- or mode-related does.
func (p PublishedState) DiffersFrom(prev PublishedState, posJump time.Duration) bool {
	if p.Track != prev.Track || p.Artist != prev.Artist || p.Source != prev.Source {
		return true
	}
	if p.SessionID != prev.SessionID {
		return true
	}
	if p.State != prev.State || p.Playing != prev.Playing {
		return true
	}
	if p.CanSeek != prev.CanSeek || p.Throttled != prev.Throttled {
		return true
	}
	if p.Indeterminate != prev.Indeterminate || p.Duration != prev.Duration {
		return true
	}
	if p.VideoID != prev.VideoID || p.ArtworkPath != prev.ArtworkPath {
		return true
	}
	// Compare positions projected to the same instant so normal playback
	// progress between passes is not itself a "change".
	delta := p.Position - prev.PositionAt(p.PublishedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta > posJump
}
