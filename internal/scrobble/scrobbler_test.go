package scrobble

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/history"
	"github.com/rainaku/vnotch/internal/media"
)

type fakeSubmitter struct {
	nowPlaying   []Track
	scrobbles    []Track
	failScrobble bool
}

func (f *fakeSubmitter) UpdateNowPlaying(t Track) error {
	f.nowPlaying = append(f.nowPlaying, t)
	return nil
}

func (f *fakeSubmitter) Scrobble(t Track) error {
	if f.failScrobble {
		return errors.New("api down")
	}
	f.scrobbles = append(f.scrobbles, t)
	return nil
}

type fakeQueue struct {
	nextID  int64
	pending []history.PendingScrobble
}

func (q *fakeQueue) AddPendingScrobble(p history.PendingScrobble) error {
	q.nextID++
	p.ID = q.nextID
	q.pending = append(q.pending, p)
	return nil
}

func (q *fakeQueue) PendingScrobbles() ([]history.PendingScrobble, error) {
	return slices.Clone(q.pending), nil
}

func (q *fakeQueue) DeletePendingScrobble(id int64) error {
	q.pending = slices.DeleteFunc(q.pending, func(p history.PendingScrobble) bool {
		return p.ID == id
	})
	return nil
}

func (q *fakeQueue) MarkScrobbleAttempt(id int64, errMsg string) error {
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending[i].Attempts++
			q.pending[i].LastError = errMsg
		}
	}
	return nil
}

func (q *fakeQueue) PrunePendingScrobbles(_ time.Duration, maxAttempts int) error {
	q.pending = slices.DeleteFunc(q.pending, func(p history.PendingScrobble) bool {
		return p.Attempts >= maxAttempts
	})
	return nil
}

func newTestScrobbler(sub Submitter, queue Queue) (*Scrobbler, *time.Time) {
	cfg := config.LastfmConfig{ScrobblePercent: 50, ScrobbleMaxMS: 240000, MinTrackMS: 30000}
	s := NewScrobbler(sub, queue, cfg, zerolog.Nop())
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func published(track, artist, source string, d time.Duration, playing bool) media.PublishedState {
	st := media.PublishedState{
		Track:    track,
		Artist:   artist,
		Source:   source,
		Duration: d,
		Playing:  playing,
	}
	if playing {
		st.State = media.StatePlaying
	} else {
		st.State = media.StatePaused
	}
	return st
}

func TestScrobbleAtHalfTrack(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	st := published("Cut to the Feeling", "Carly Rae Jepsen", "spotify", 200*time.Second, true)
	s.Observe(st)
	if len(sub.nowPlaying) != 1 {
		t.Fatalf("now playing updates = %d, want 1", len(sub.nowPlaying))
	}

	*clock = clock.Add(60 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 0 {
		t.Fatalf("scrobbled after 60s of a 200s track")
	}

	*clock = clock.Add(45 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 1 {
		t.Fatalf("scrobbles = %d, want 1 after passing half the track", len(sub.scrobbles))
	}
	if sub.scrobbles[0].Title != "Cut to the Feeling" || sub.scrobbles[0].Artist != "Carly Rae Jepsen" {
		t.Errorf("scrobbled %q by %q", sub.scrobbles[0].Title, sub.scrobbles[0].Artist)
	}

	*clock = clock.Add(30 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 1 {
		t.Errorf("track scrobbled twice")
	}
	if len(sub.nowPlaying) != 1 {
		t.Errorf("now playing updates = %d, want 1", len(sub.nowPlaying))
	}
}

func TestScrobbleCapsLongTracks(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	st := published("Mountain Jam", "The Allman Brothers Band", "tidal", 600*time.Second, true)
	s.Observe(st)

	*clock = clock.Add(200 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 0 {
		t.Fatalf("scrobbled before the 240s cap")
	}

	*clock = clock.Add(50 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 1 {
		t.Fatalf("scrobbles = %d, want 1 after the cap", len(sub.scrobbles))
	}
}

func TestShortTracksNeverScrobble(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	st := published("Intro", "Some Band", "spotify", 20*time.Second, true)
	s.Observe(st)
	*clock = clock.Add(2 * time.Minute)
	s.Observe(st)
	*clock = clock.Add(2 * time.Minute)
	s.Observe(st)

	if len(sub.scrobbles) != 0 {
		t.Errorf("scrobbled a %v track", 20*time.Second)
	}
	if len(sub.nowPlaying) != 0 {
		t.Errorf("sent now playing for an ineligible track")
	}
}

func TestUnknownDurationUsesCap(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	st := published("Morning Show", "KEXP", "mpv", 0, true)
	st.Indeterminate = true
	s.Observe(st)

	*clock = clock.Add(200 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 0 {
		t.Fatalf("scrobbled an unknown-length track before the cap")
	}

	*clock = clock.Add(45 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 1 {
		t.Fatalf("scrobbles = %d, want 1 once the cap elapsed", len(sub.scrobbles))
	}
}

func TestVideoAuthorStandsInForArtist(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	st := published("Tiny Desk Concert", "", "youtube", 180*time.Second, true)
	s.Observe(st)
	if len(sub.nowPlaying) != 0 {
		t.Fatalf("sent now playing without an artist")
	}

	*clock = clock.Add(30 * time.Second)
	st.VideoAuthor = "NPR Music"
	s.Observe(st)
	if len(sub.nowPlaying) != 1 {
		t.Fatalf("now playing updates = %d, want 1 once the author arrived", len(sub.nowPlaying))
	}
	if sub.nowPlaying[0].Artist != "NPR Music" {
		t.Errorf("now playing artist = %q, want NPR Music", sub.nowPlaying[0].Artist)
	}

	*clock = clock.Add(65 * time.Second)
	s.Observe(st)
	if len(sub.scrobbles) != 1 {
		t.Fatalf("scrobbles = %d, want 1", len(sub.scrobbles))
	}
	if sub.scrobbles[0].Artist != "NPR Music" {
		t.Errorf("scrobbled artist = %q, want NPR Music", sub.scrobbles[0].Artist)
	}
}

func TestPausedTimeDoesNotCount(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	playing := published("Heroes", "David Bowie", "spotify", 200*time.Second, true)
	paused := published("Heroes", "David Bowie", "spotify", 200*time.Second, false)

	s.Observe(playing)
	*clock = clock.Add(60 * time.Second)
	s.Observe(paused)

	*clock = clock.Add(5 * time.Minute)
	s.Observe(playing)
	if len(sub.scrobbles) != 0 {
		t.Fatalf("paused time counted toward the scrobble threshold")
	}

	*clock = clock.Add(45 * time.Second)
	s.Observe(playing)
	if len(sub.scrobbles) != 1 {
		t.Fatalf("scrobbles = %d, want 1 after 105s of play time", len(sub.scrobbles))
	}
	if len(sub.nowPlaying) != 1 {
		t.Errorf("now playing updates = %d, want 1 across pause and resume", len(sub.nowPlaying))
	}
}

func TestTrackChangeFinalizesOutgoingTrack(t *testing.T) {
	sub := &fakeSubmitter{}
	s, clock := newTestScrobbler(sub, nil)

	s.Observe(published("First", "Artist A", "spotify", 200*time.Second, true))

	// No intermediate states: an uninterrupted track emits nothing
	// until the next track replaces it.
	*clock = clock.Add(150 * time.Second)
	s.Observe(published("Second", "Artist B", "spotify", 200*time.Second, true))

	if len(sub.scrobbles) != 1 {
		t.Fatalf("scrobbles = %d, want the finished track scrobbled", len(sub.scrobbles))
	}
	if sub.scrobbles[0].Title != "First" {
		t.Errorf("scrobbled %q, want First", sub.scrobbles[0].Title)
	}
	if len(sub.nowPlaying) != 2 {
		t.Errorf("now playing updates = %d, want one per track", len(sub.nowPlaying))
	}
}

func TestFailedScrobbleQueuedThenDrained(t *testing.T) {
	sub := &fakeSubmitter{failScrobble: true}
	queue := &fakeQueue{}
	s, clock := newTestScrobbler(sub, queue)

	s.Observe(published("First", "Artist A", "spotify", 200*time.Second, true))
	*clock = clock.Add(150 * time.Second)
	s.Observe(published("First", "Artist A", "spotify", 200*time.Second, true))

	if len(queue.pending) != 1 {
		t.Fatalf("pending queue = %d, want the failed scrobble queued", len(queue.pending))
	}
	if queue.pending[0].Track != "First" {
		t.Errorf("queued %q, want First", queue.pending[0].Track)
	}

	sub.failScrobble = false
	*clock = clock.Add(10 * time.Second)
	s.Observe(published("Second", "Artist B", "spotify", 200*time.Second, true))
	*clock = clock.Add(150 * time.Second)
	s.Observe(published("Second", "Artist B", "spotify", 200*time.Second, true))

	if len(sub.scrobbles) != 2 {
		t.Fatalf("scrobbles = %d, want the new track plus the drained one", len(sub.scrobbles))
	}
	if sub.scrobbles[0].Title != "Second" || sub.scrobbles[1].Title != "First" {
		t.Errorf("scrobble order = %q, %q", sub.scrobbles[0].Title, sub.scrobbles[1].Title)
	}
	if len(queue.pending) != 0 {
		t.Errorf("pending queue = %d after drain, want 0", len(queue.pending))
	}
}

func TestRunDrainsQueueOnStart(t *testing.T) {
	sub := &fakeSubmitter{}
	queue := &fakeQueue{}
	if err := queue.AddPendingScrobble(history.PendingScrobble{Track: "Leftover", Artist: "Artist"}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScrobbler(sub, queue)

	states := make(chan media.PublishedState)
	close(states)
	s.Run(context.Background(), states)

	if len(sub.scrobbles) != 1 || sub.scrobbles[0].Title != "Leftover" {
		t.Fatalf("queued scrobble not submitted on start: %+v", sub.scrobbles)
	}
	if len(queue.pending) != 0 {
		t.Errorf("pending queue = %d after drain, want 0", len(queue.pending))
	}
}

func TestRetryFailureMarksAttempt(t *testing.T) {
	sub := &fakeSubmitter{failScrobble: true}
	queue := &fakeQueue{}
	if err := queue.AddPendingScrobble(history.PendingScrobble{Track: "Leftover", Artist: "Artist"}); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestScrobbler(sub, queue)

	states := make(chan media.PublishedState)
	close(states)
	s.Run(context.Background(), states)

	if len(queue.pending) != 1 {
		t.Fatalf("pending queue = %d, want the scrobble kept for retry", len(queue.pending))
	}
	if queue.pending[0].Attempts != 1 || queue.pending[0].LastError != "api down" {
		t.Errorf("attempt not recorded: %+v", queue.pending[0])
	}
}
