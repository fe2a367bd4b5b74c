package scrobble

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/history"
	"github.com/rainaku/vnotch/internal/media"
)

const (
	pendingMaxAge      = 14 * 24 * time.Hour
	pendingMaxAttempts = 5
)

// Submitter is the slice of the Last.fm client the scrobbler needs.
type Submitter interface {
	UpdateNowPlaying(Track) error
	Scrobble(Track) error
}

// Queue persists scrobbles that failed to submit.
type Queue interface {
	AddPendingScrobble(history.PendingScrobble) error
	PendingScrobbles() ([]history.PendingScrobble, error)
	DeletePendingScrobble(id int64) error
	MarkScrobbleAttempt(id int64, errMsg string) error
	PrunePendingScrobbles(maxAge time.Duration, maxAttempts int) error
}

// Scrobbler folds the published state stream into Last.fm submissions:
// one now-playing update per track, one scrobble once enough of it has
// actually played.
type Scrobbler struct {
	sub   Submitter
	queue Queue // may be nil: failed scrobbles are then dropped
	cfg   config.LastfmConfig
	log   zerolog.Logger
	now   func() time.Time

	sig            string
	track          Track
	eligible       bool
	nowPlayingSent bool
	scrobbled      bool
	playing        bool
	lastSeen       time.Time
	played         time.Duration
}

func NewScrobbler(sub Submitter, queue Queue, cfg config.LastfmConfig, log zerolog.Logger) *Scrobbler {
	return &Scrobbler{
		sub:   sub,
		queue: queue,
		cfg:   cfg,
		log:   log.With().Str("component", "scrobble").Logger(),
		now:   time.Now,
	}
}

// Run consumes published states until the channel closes or the context
// ends. Queued scrobbles from earlier runs are retried on the way in.
func (s *Scrobbler) Run(ctx context.Context, states <-chan media.PublishedState) {
	s.drainPending()
	defer func() { s.finish(s.now()) }()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			s.Observe(st)
		}
	}
}

// Observe folds one published state into the scrobble bookkeeping.
func (s *Scrobbler) Observe(st media.PublishedState) {
	now := s.now()

	if st.Signature() != s.sig {
		s.finish(now)
		s.begin(st, now)
		return
	}

	if s.playing {
		s.played += now.Sub(s.lastSeen)
	}
	s.playing = st.Playing
	s.lastSeen = now

	s.refresh(st)
	if !s.eligible {
		return
	}

	if !s.nowPlayingSent && st.Playing {
		s.sendNowPlaying()
	}
	if !s.scrobbled && s.played >= s.threshold() {
		s.submit()
	}
}

// finish credits the trailing play time of the outgoing track and
// scrobbles it if that pushed it past the threshold. States only
// arrive on material changes, so an uninterrupted track may produce
// nothing between its first state and the next track's.
func (s *Scrobbler) finish(now time.Time) {
	if s.sig == "" {
		return
	}
	if s.playing {
		s.played += now.Sub(s.lastSeen)
	}
	if s.eligible && !s.scrobbled && s.played >= s.threshold() {
		s.submit()
	}
}

func (s *Scrobbler) begin(st media.PublishedState, now time.Time) {
	s.sig = st.Signature()
	s.track = Track{
		Artist:    artistOf(st),
		Title:     st.Track,
		Album:     st.Album,
		Duration:  st.Duration,
		StartedAt: now,
	}
	s.eligible = s.qualifies(st)
	s.nowPlayingSent = false
	s.scrobbled = false
	s.playing = st.Playing
	s.lastSeen = now
	s.played = 0

	if s.eligible && st.Playing {
		s.sendNowPlaying()
	}
}

// refresh re-checks eligibility as later states land: the author of a
// matched video can stand in for a missing artist, and a duration may
// become known after the first sample.
func (s *Scrobbler) refresh(st media.PublishedState) {
	if a := artistOf(st); a != "" {
		s.track.Artist = a
	}
	if st.Duration > 0 {
		s.track.Duration = st.Duration
	}
	s.eligible = s.qualifies(st)
}

func (s *Scrobbler) qualifies(st media.PublishedState) bool {
	if !st.HasTrack() || s.track.Artist == "" {
		return false
	}
	minTrack := time.Duration(s.cfg.MinTrackMS) * time.Millisecond
	return s.track.Duration <= 0 || s.track.Duration >= minTrack
}

// threshold is how much play time earns a scrobble: a percentage of the
// track, capped for long tracks. Unknown durations use the cap alone.
func (s *Scrobbler) threshold() time.Duration {
	limit := time.Duration(s.cfg.ScrobbleMaxMS) * time.Millisecond
	if s.track.Duration <= 0 {
		return limit
	}
	part := time.Duration(float64(s.track.Duration) * float64(s.cfg.ScrobblePercent) / 100.0)
	if part < limit {
		return part
	}
	return limit
}

func (s *Scrobbler) sendNowPlaying() {
	// One attempt per track, failed or not.
	s.nowPlayingSent = true
	if err := s.sub.UpdateNowPlaying(s.track); err != nil {
		s.log.Debug().Err(err).Str("track", s.track.Title).Msg("now playing update failed")
	}
}

func (s *Scrobbler) submit() {
	s.scrobbled = true
	t := s.track
	if err := s.sub.Scrobble(t); err != nil {
		s.log.Warn().Err(err).Str("track", t.Title).Msg("scrobble failed, queueing for retry")
		s.enqueue(t)
		return
	}
	s.log.Debug().Str("track", t.Title).Str("artist", t.Artist).Msg("scrobbled")
	s.drainPending()
}

func (s *Scrobbler) enqueue(t Track) {
	if s.queue == nil {
		return
	}
	err := s.queue.AddPendingScrobble(history.PendingScrobble{
		Track:           t.Title,
		Artist:          t.Artist,
		Album:           t.Album,
		DurationSeconds: int(t.Duration.Seconds()),
		StartedAt:       t.StartedAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("queueing scrobble failed")
	}
}

// drainPending retries queued scrobbles, dropping those that keep
// failing or have grown too old.
func (s *Scrobbler) drainPending() {
	if s.queue == nil {
		return
	}
	if err := s.queue.PrunePendingScrobbles(pendingMaxAge, pendingMaxAttempts); err != nil {
		s.log.Warn().Err(err).Msg("pruning scrobble queue failed")
	}
	pending, err := s.queue.PendingScrobbles()
	if err != nil {
		s.log.Warn().Err(err).Msg("reading scrobble queue failed")
		return
	}
	for _, p := range pending {
		t := Track{
			Artist:    p.Artist,
			Title:     p.Track,
			Album:     p.Album,
			Duration:  time.Duration(p.DurationSeconds) * time.Second,
			StartedAt: p.StartedAt,
		}
		if err := s.sub.Scrobble(t); err != nil {
			if qerr := s.queue.MarkScrobbleAttempt(p.ID, err.Error()); qerr != nil {
				s.log.Warn().Err(qerr).Msg("updating scrobble queue failed")
			}
			// The service is likely still down; stop hammering it.
			return
		}
		if err := s.queue.DeletePendingScrobble(p.ID); err != nil {
			s.log.Warn().Err(err).Msg("removing queued scrobble failed")
		}
		s.log.Debug().Str("track", t.Title).Msg("queued scrobble submitted")
	}
}

func artistOf(st media.PublishedState) string {
	if st.Artist != "" {
		return st.Artist
	}
	return st.VideoAuthor
}
