package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/media"
)

const announceTimeoutMS = 5000

// Announcer turns track changes in the published state stream into
// desktop notifications. Each announcement replaces the previous one
// instead of stacking.
type Announcer struct {
	notifier Notifier
	log      zerolog.Logger

	sig    string
	lastID uint32
}

func NewAnnouncer(notifier Notifier, log zerolog.Logger) *Announcer {
	return &Announcer{
		notifier: notifier,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

// Run consumes published states until the channel closes or the
// context ends.
func (a *Announcer) Run(ctx context.Context, states <-chan media.PublishedState) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			a.Observe(st)
		}
	}
}

// Observe announces st when it carries a different track than the
// previous announcement.
func (a *Announcer) Observe(st media.PublishedState) {
	sig := st.Signature()
	if sig == a.sig {
		return
	}
	a.sig = sig
	if !st.HasTrack() {
		return
	}

	id, err := a.notifier.Notify(Notification{
		Title:      st.Track,
		Body:       bodyFor(st),
		Icon:       st.ArtworkPath,
		Timeout:    announceTimeoutMS,
		ReplacesID: a.lastID,
		Urgency:    UrgencyLow,
	})
	if err != nil {
		a.log.Debug().Err(err).Str("track", st.Track).Msg("notification failed")
		return
	}
	a.lastID = id
}

func bodyFor(st media.PublishedState) string {
	artist := st.Artist
	if artist == "" {
		artist = st.VideoAuthor
	}
	switch {
	case artist != "" && st.Album != "":
		return artist + "\n" + st.Album
	case artist != "":
		return artist
	default:
		return st.Source
	}
}
