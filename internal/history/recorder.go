package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/media"
)

// minRecorded is how long a track must actually play before it becomes
// a history row.
const minRecorded = 10 * time.Second

// Recorder folds the published state stream into history rows: one per
// track listened to for long enough. Paused time does not count.
type Recorder struct {
	store *Store
	log   zerolog.Logger
	now   func() time.Time

	sig      string
	active   bool
	playing  bool
	lastSeen time.Time
	played   time.Duration
	play     Play
}

func NewRecorder(store *Store, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log.With().Str("component", "history").Logger(),
		now:   time.Now,
	}
}

// Run consumes published states until the channel closes or the context
// ends, flushing the in-progress play on the way out.
func (r *Recorder) Run(ctx context.Context, states <-chan media.PublishedState) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case st, ok := <-states:
			if !ok {
				r.flush()
				return
			}
			r.Observe(st)
		}
	}
}

// Observe folds one published state into the running play.
func (r *Recorder) Observe(st media.PublishedState) {
	now := r.now()

	if st.Signature() != r.sig {
		r.flush()
		r.sig = st.Signature()
		r.active = st.HasTrack()
		r.playing = st.Playing
		r.lastSeen = now
		r.played = 0
		if r.active {
			r.play = Play{
				Track:     st.Track,
				Artist:    st.Artist,
				Album:     st.Album,
				Source:    st.Source,
				VideoID:   st.VideoID,
				StartedAt: now,
			}
		}
		return
	}

	if !r.active {
		return
	}
	if st.VideoID != "" {
		r.play.VideoID = st.VideoID
	}
	if r.playing {
		r.played += now.Sub(r.lastSeen)
	}
	r.playing = st.Playing
	r.lastSeen = now
}

func (r *Recorder) flush() {
	if !r.active {
		return
	}
	r.active = false

	if r.playing {
		r.played += r.now().Sub(r.lastSeen)
	}
	if r.played < minRecorded {
		return
	}

	r.play.PlayedSeconds = int(r.played.Seconds())
	if err := r.store.RecordPlay(r.play); err != nil {
		r.log.Warn().Err(err).Str("track", r.play.Track).Msg("recording play failed")
		return
	}
	r.log.Debug().
		Str("track", r.play.Track).
		Int("seconds", r.play.PlayedSeconds).
		Msg("play recorded")
}
