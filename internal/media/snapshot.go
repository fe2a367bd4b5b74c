// Package media defines the value types exchanged between the signal
// sources and the reconciliation engine. Snapshots carry no logic beyond
// derived accessors; all interpretation happens downstream.
package media

import (
	"strings"
	"time"
)

// Snapshot is one observation of a media source: what a single session
// reported (or was inferred to report) at a single point in time.
// Snapshots are rebuilt on every reconciliation pass and discarded.
type Snapshot struct {
	Track     string
	Artist    string
	Album     string
	Source    string // platform label ("spotify", "youtube", ...), empty when unknown
	SessionID string // opaque identifier of the originating session

	Position time.Duration
	Duration time.Duration // <= 0 means unknown/indeterminate
	Playing  bool
	Rate     float64 // playback rate, > 0; 0 is normalized to 1.0
	CanSeek  bool

	ArtURL string

	// SampledAt is when the values were true at the source, not when they
	// were observed. The predictor uses it to correct for staleness.
	SampledAt time.Time

	// Throttled marks a snapshot whose position is simulated because the
	// source's own reporting has stalled.
	Throttled bool
}

// Signature returns the stable key identifying the logical track:
// track, artist and source joined. Used for change detection and as the
// correlation key for caches and enrichment.
func (s Snapshot) Signature() string {
	return Signature(s.Track, s.Artist, s.Source)
}

// Signature builds a track signature from its parts.
func Signature(track, artist, source string) string {
	return strings.ToLower(track) + "|" + strings.ToLower(artist) + "|" + strings.ToLower(source)
}

// HasTrack reports whether the snapshot carries a usable track title.
func (s Snapshot) HasTrack() bool {
	return strings.TrimSpace(s.Track) != ""
}

// Indeterminate reports whether the duration is unknown. Indeterminate
// snapshots must not be used for progress-ratio math.
func (s Snapshot) Indeterminate() bool {
	return s.Duration <= 0
}

// ProgressRatio returns position/duration in [0, 1], or 0 when the
// duration is indeterminate.
func (s Snapshot) ProgressRatio() float64 {
	if s.Indeterminate() || s.Position <= 0 {
		return 0
	}
	r := float64(s.Position) / float64(s.Duration)
	if r > 1 {
		return 1
	}
	return r
}

// EffectiveRate returns the playback rate, defaulting to 1.0 when the
// source reported nothing usable.
func (s Snapshot) EffectiveRate() float64 {
	if s.Rate <= 0 {
		return 1.0
	}
	return s.Rate
}
