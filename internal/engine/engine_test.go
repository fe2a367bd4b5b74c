package engine

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/lookup"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/pipeline"
	"github.com/rainaku/vnotch/internal/platform"
	"github.com/rainaku/vnotch/internal/source"
)

type fakeSession struct {
	id string

	mu      sync.Mutex
	snap    media.Snapshot
	canNext bool
	canPrev bool

	playCalls  int
	pauseCalls int
	nextCalls  int
	prevCalls  int
	seeks      []int64
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Snapshot(context.Context) (media.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeSession) set(snap media.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func (f *fakeSession) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls++
	return nil
}

func (f *fakeSession) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return nil
}

func (f *fakeSession) Next(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCalls++
	return nil
}

func (f *fakeSession) Previous(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prevCalls++
	return nil
}

func (f *fakeSession) SeekTo(_ context.Context, positionUS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, positionUS)
	return nil
}

func (f *fakeSession) CanGoNext() bool     { return f.canNext }
func (f *fakeSession) CanGoPrevious() bool { return f.canPrev }

type fakeRegistry struct {
	mu       sync.Mutex
	sessions []source.Session
	events   chan source.Event
}

func newFakeRegistry(sessions ...source.Session) *fakeRegistry {
	return &fakeRegistry{sessions: sessions, events: make(chan source.Event, 8)}
}

func (r *fakeRegistry) Sessions(context.Context) ([]source.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sessions), nil
}

func (r *fakeRegistry) Events() <-chan source.Event { return r.events }
func (r *fakeRegistry) Close() error                { return nil }

func (r *fakeRegistry) set(sessions ...source.Session) {
	r.mu.Lock()
	r.sessions = sessions
	r.mu.Unlock()
}

func newTestEngine(t *testing.T, reg source.Registry) *Engine {
	t.Helper()
	return New(&config.Config{}, reg, nil, nil, nil, zerolog.Nop())
}

func playingSnap(track, artist string, pos time.Duration) media.Snapshot {
	return media.Snapshot{
		Track:     track,
		Artist:    artist,
		Position:  pos,
		Duration:  4 * time.Minute,
		Playing:   true,
		Rate:      1.0,
		CanSeek:   true,
		SampledAt: time.Now(),
	}
}

func TestReconcilePublishesPlayingSession(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Karma Police", "Radiohead", 10*time.Second))
	e := newTestEngine(t, newFakeRegistry(spotify))

	e.reconcile(context.Background(), pipeline.ChangeSessions)

	st := e.State()
	require.True(t, st.HasTrack())
	assert.Equal(t, "Karma Police", st.Track)
	assert.Equal(t, "Radiohead", st.Artist)
	assert.Equal(t, "spotify", st.Source)
	assert.True(t, st.Playing)
	assert.Equal(t, media.StatePlaying, st.State)
}

func TestRepeatedPassesFireOneEvent(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Karma Police", "Radiohead", 10*time.Second))
	e := newTestEngine(t, newFakeRegistry(spotify))
	ch := e.Subscribe()

	ctx := context.Background()
	e.reconcile(ctx, pipeline.ChangeSessions)
	e.reconcile(ctx, pipeline.ChangeBeat)
	e.reconcile(ctx, pipeline.ChangeBeat)

	assert.Equal(t, 1, len(ch), "identical re-samples must not fire extra events")
}

func TestSessionFlapKeepsWinner(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Paranoid Android", "Radiohead", 30*time.Second))
	chrome := &fakeSession{id: "org.mpris.MediaPlayer2.chromium.instance1234"}
	chrome.set(media.Snapshot{Playing: true, SampledAt: time.Now()})

	reg := newFakeRegistry(spotify)
	e := newTestEngine(t, reg)
	ch := e.Subscribe()

	ctx := context.Background()
	e.reconcile(ctx, pipeline.ChangeSessions)
	reg.set(spotify, chrome)
	e.reconcile(ctx, pipeline.ChangeSessions)
	reg.set(spotify)
	e.reconcile(ctx, pipeline.ChangeSessions)

	for len(ch) > 0 {
		st := <-ch
		assert.Equal(t, "spotify", st.Source, "selection flapped to the metadata-less session")
	}
	assert.Equal(t, "org.mpris.MediaPlayer2.spotify", e.State().SessionID)
}

func TestVideoNextDegradesToSeek(t *testing.T) {
	tab := &fakeSession{id: "org.mpris.MediaPlayer2.firefox.instance7", canNext: true}
	tab.set(media.Snapshot{
		Track:     "Cool Documentary",
		Album:     "YouTube",
		Position:  100 * time.Second,
		Duration:  600 * time.Second,
		Playing:   true,
		Rate:      1.0,
		CanSeek:   true,
		SampledAt: time.Now(),
	})
	e := newTestEngine(t, newFakeRegistry(tab))

	ctx := context.Background()
	e.reconcile(ctx, pipeline.ChangeSessions)
	require.Equal(t, "youtube", e.State().Source)

	require.NoError(t, e.Next(ctx))

	tab.mu.Lock()
	defer tab.mu.Unlock()
	assert.Zero(t, tab.nextCalls, "video sources have no track list to skip in")
	require.Len(t, tab.seeks, 1)
	assert.InDelta(t, (115 * time.Second).Microseconds(), tab.seeks[0], float64((2 * time.Second).Microseconds()))
}

func TestPublishedPositionsMonotonic(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	base := playingSnap("Weird Fishes", "Radiohead", 10*time.Second)
	spotify.set(base)
	e := newTestEngine(t, newFakeRegistry(spotify))
	ctx := context.Background()

	var last time.Duration
	for _, pos := range []time.Duration{
		10 * time.Second,
		9900 * time.Millisecond,
		10050 * time.Millisecond,
		9800 * time.Millisecond,
	} {
		snap := base
		snap.Position = pos
		snap.SampledAt = time.Now()
		spotify.set(snap)
		e.reconcile(ctx, pipeline.ChangeBeat)

		got := e.State().Position
		assert.GreaterOrEqual(t, got, last, "published position went backwards on sample %v", pos)
		last = got
	}
}

func TestEmptyRegistryPublishesIdle(t *testing.T) {
	reg := newFakeRegistry()
	e := newTestEngine(t, reg)
	ctx := context.Background()

	e.reconcile(ctx, pipeline.ChangeSessions)
	st := e.State()
	assert.False(t, st.HasTrack())
	assert.Equal(t, media.StateIdle, st.State)

	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Nude", "Radiohead", time.Second))
	reg.set(spotify)
	e.reconcile(ctx, pipeline.ChangeSessions)
	assert.True(t, e.State().HasTrack())
}

func TestIgnoredSessions(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Song", "Band", time.Second))
	own := &fakeSession{id: "org.mpris.MediaPlayer2.vnotch"}
	own.set(playingSnap("Echo", "Loop", time.Second))

	cfg := &config.Config{IgnoreSessions: []string{"spotify"}}
	e := New(cfg, newFakeRegistry(spotify, own), nil, nil, nil, zerolog.Nop())
	e.IgnoreSession("org.mpris.MediaPlayer2.vnotch")

	e.reconcile(context.Background(), pipeline.ChangeSessions)
	assert.False(t, e.State().HasTrack(), "ignored sessions must never be considered")
}

func TestControlsWithoutSession(t *testing.T) {
	e := newTestEngine(t, newFakeRegistry())
	ctx := context.Background()

	assert.ErrorIs(t, e.PlayPause(ctx), ErrNoSession)
	assert.ErrorIs(t, e.Next(ctx), ErrNoSession)
	assert.ErrorIs(t, e.Previous(ctx), ErrNoSession)
	assert.ErrorIs(t, e.SeekTo(ctx, time.Second), ErrNoSession)
}

func TestEnrichmentStaleWriteGuard(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Reckoner", "Radiohead", time.Second))
	e := newTestEngine(t, newFakeRegistry(spotify))

	e.reconcile(context.Background(), pipeline.ChangeSessions)
	sig := e.State().Signature()

	e.applyEnrichment("stale|other|track", Enrichment{VideoID: "zzz"})
	assert.Empty(t, e.State().VideoID, "stale enrichment must not land")

	e.applyEnrichment(sig, Enrichment{VideoID: "abc123", Author: "Radiohead"})
	st := e.State()
	assert.Equal(t, "abc123", st.VideoID)
	assert.Equal(t, "Radiohead", st.VideoAuthor)
}

type blockingFinder struct {
	mu   sync.Mutex
	ctxs []context.Context
}

func (f *blockingFinder) Find(ctx context.Context, title, artist string) (*lookup.Result, error) {
	f.mu.Lock()
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnricherCancelsSupersededLookup(t *testing.T) {
	finder := &blockingFinder{}
	en := NewEnricher(finder, nil, 8, zerolog.Nop())
	ctx := context.Background()
	noop := func(string, Enrichment) {}

	en.Kick(ctx, media.PublishedState{Track: "First", Source: "youtube"}, platform.KindVideo, noop)
	require.Eventually(t, func() bool {
		finder.mu.Lock()
		defer finder.mu.Unlock()
		return len(finder.ctxs) == 1
	}, time.Second, 5*time.Millisecond, "first lookup never started")

	en.Kick(ctx, media.PublishedState{Track: "Second", Source: "youtube"}, platform.KindVideo, noop)
	require.Eventually(t, func() bool {
		finder.mu.Lock()
		defer finder.mu.Unlock()
		return finder.ctxs[0].Err() != nil
	}, time.Second, 5*time.Millisecond, "superseded lookup was not cancelled")
}

func TestStartStopLifecycle(t *testing.T) {
	spotify := &fakeSession{id: "org.mpris.MediaPlayer2.spotify"}
	spotify.set(playingSnap("Videotape", "Radiohead", time.Second))
	reg := newFakeRegistry(spotify)
	e := newTestEngine(t, reg)
	ch := e.Subscribe()

	e.Start()
	select {
	case st := <-ch:
		assert.Equal(t, "Videotape", st.Track)
	case <-time.After(2 * time.Second):
		t.Fatal("no state published after start")
	}
	e.Stop()
}
