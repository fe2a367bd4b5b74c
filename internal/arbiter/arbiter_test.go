package arbiter

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/platform"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestArbiter() (*Arbiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.Config{}
	a := New(cfg.GetArbiter(), zerolog.Nop())
	a.now = clock.now
	return a, clock
}

func cand(id, platName, title, artist string, playing bool) Candidate {
	plat, _ := platform.ByName(platName)
	return Candidate{
		Snapshot: media.Snapshot{
			SessionID: id,
			Source:    platName,
			Track:     title,
			Artist:    artist,
			Playing:   playing,
		},
		Platform:  plat,
		RealTitle: title != "",
	}
}

func TestPicksPlayingDescribedSession(t *testing.T) {
	a, _ := newTestArbiter()

	d := a.Evaluate([]Candidate{
		cand("sys", "", "", "", true),
		cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", true),
	})

	if !d.OK {
		t.Fatal("Evaluate() OK = false, want true")
	}
	if got := d.Candidate.ID(); got != "spotify.1" {
		t.Errorf("winner = %q, want %q", got, "spotify.1")
	}
	if !d.Switched {
		t.Error("Switched = false, want true on first selection")
	}
}

func TestNewUnplayingSessionNeverSteals(t *testing.T) {
	a, _ := newTestArbiter()

	playing := cand("firefox.1", "firefox", "Some Mix", "", true)
	a.Evaluate([]Candidate{playing})

	// A paused premium session appears. It outclasses on platform
	// weight but is neither playing nor previously selected.
	d := a.Evaluate([]Candidate{
		playing,
		cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", false),
	})

	if got := d.Candidate.ID(); got != "firefox.1" {
		t.Errorf("winner = %q, want %q", got, "firefox.1")
	}
	if d.Switched {
		t.Error("Switched = true, want false")
	}
}

func TestStartupPausedSessionStillReported(t *testing.T) {
	a, _ := newTestArbiter()

	// Nothing was selected before, so the paused session is better
	// than reporting nothing.
	d := a.Evaluate([]Candidate{
		cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", false),
	})

	if !d.OK {
		t.Fatal("Evaluate() OK = false, want true")
	}
	if got := d.Candidate.ID(); got != "spotify.1" {
		t.Errorf("winner = %q, want %q", got, "spotify.1")
	}
}

func TestHysteresisHold(t *testing.T) {
	a, clock := newTestArbiter()

	current := cand("firefox.1", "firefox", "Lo-fi Beats", "", true)
	a.Evaluate([]Candidate{current})

	// Challenger starts playing; current pauses. The challenger now
	// outscores but must stay best through the hold window.
	paused := cand("firefox.1", "firefox", "Lo-fi Beats", "", false)
	challenger := cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", true)
	both := []Candidate{paused, challenger}

	d := a.Evaluate(both)
	if got := d.Candidate.ID(); got != "firefox.1" {
		t.Fatalf("winner during hold = %q, want %q", got, "firefox.1")
	}

	clock.advance(1 * time.Second)
	if d := a.Evaluate(both); d.Candidate.ID() != "firefox.1" {
		t.Fatalf("winner at 1.0s = %q, want %q", d.Candidate.ID(), "firefox.1")
	}

	clock.advance(600 * time.Millisecond)
	d = a.Evaluate(both)
	if got := d.Candidate.ID(); got != "spotify.1" {
		t.Errorf("winner after hold = %q, want %q", got, "spotify.1")
	}
	if !d.Switched {
		t.Error("Switched = false, want true after hold elapses")
	}
}

func TestPremiumHoldIsLonger(t *testing.T) {
	a, clock := newTestArbiter()

	current := cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", true)
	a.Evaluate([]Candidate{current})

	paused := cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", false)
	challenger := cand("firefox.1", "firefox", "Some Video", "Uploader", true)
	both := []Candidate{paused, challenger}

	a.Evaluate(both)

	// Past the ordinary hold, inside the premium one.
	clock.advance(2 * time.Second)
	if d := a.Evaluate(both); d.Candidate.ID() != "spotify.1" {
		t.Fatalf("winner at 2.0s = %q, want %q", d.Candidate.ID(), "spotify.1")
	}

	clock.advance(2200 * time.Millisecond)
	if d := a.Evaluate(both); d.Candidate.ID() != "firefox.1" {
		t.Errorf("winner at 4.2s = %q, want %q", d.Candidate.ID(), "firefox.1")
	}
}

func TestChallengerClockRestartsWhenBestChanges(t *testing.T) {
	a, clock := newTestArbiter()

	current := cand("firefox.1", "firefox", "Lo-fi Beats", "", true)
	a.Evaluate([]Candidate{current})

	paused := cand("firefox.1", "firefox", "Lo-fi Beats", "", false)
	first := cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", true)
	second := cand("tidal.1", "tidal", "Xtal", "Aphex Twin", true)

	a.Evaluate([]Candidate{paused, first})
	clock.advance(1 * time.Second)

	// A different challenger takes over as best: the hold restarts.
	a.Evaluate([]Candidate{paused, cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", false), second})
	clock.advance(1 * time.Second)

	d := a.Evaluate([]Candidate{paused, second})
	if got := d.Candidate.ID(); got != "firefox.1" {
		t.Errorf("winner = %q, want %q (hold restarted)", got, "firefox.1")
	}
}

func TestGraceKeepsVanishedWinner(t *testing.T) {
	a, clock := newTestArbiter()

	a.Evaluate([]Candidate{cand("firefox.1", "firefox", "Lo-fi Beats", "", true)})

	d := a.Evaluate(nil)
	if !d.OK || !d.Grace {
		t.Fatalf("Evaluate(nil) = OK %v Grace %v, want true true", d.OK, d.Grace)
	}
	if got := d.Candidate.ID(); got != "firefox.1" {
		t.Errorf("grace candidate = %q, want %q", got, "firefox.1")
	}

	clock.advance(2900 * time.Millisecond)
	if d := a.Evaluate(nil); !d.OK {
		t.Error("Evaluate(nil) inside grace: OK = false, want true")
	}

	clock.advance(200 * time.Millisecond)
	if d := a.Evaluate(nil); d.OK {
		t.Error("Evaluate(nil) past grace: OK = true, want false")
	}
}

func TestSessionFlapDoesNotSwitch(t *testing.T) {
	a, clock := newTestArbiter()

	session := cand("firefox.1", "firefox", "Lo-fi Beats", "", true)
	a.Evaluate([]Candidate{session})

	// Vanishes for one pass, then returns.
	a.Evaluate(nil)
	clock.advance(500 * time.Millisecond)

	d := a.Evaluate([]Candidate{session})
	if got := d.Candidate.ID(); got != "firefox.1" {
		t.Fatalf("winner = %q, want %q", got, "firefox.1")
	}
	if d.Switched {
		t.Error("Switched = true after flap, want false")
	}
	if d.Grace {
		t.Error("Grace = true after return, want false")
	}
}

func TestGraceThenFallback(t *testing.T) {
	a, clock := newTestArbiter()

	a.Evaluate([]Candidate{cand("firefox.1", "firefox", "Lo-fi Beats", "", true)})

	// Winner gone; only a paused (unqualified) session remains.
	rest := []Candidate{cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", false)}

	d := a.Evaluate(rest)
	if got := d.Candidate.ID(); got != "firefox.1" || !d.Grace {
		t.Fatalf("winner inside grace = %q (grace %v), want firefox.1 (true)", got, d.Grace)
	}

	clock.advance(3100 * time.Millisecond)
	d = a.Evaluate(rest)
	if got := d.Candidate.ID(); got != "spotify.1" {
		t.Errorf("fallback winner = %q, want %q", got, "spotify.1")
	}
	if !d.Switched {
		t.Error("Switched = false on fallback, want true")
	}
}

func TestRealTitleDominatesSystemSounds(t *testing.T) {
	a, _ := newTestArbiter()

	a.Evaluate([]Candidate{cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", true)})

	// A metadata-less session starts playing while the real track
	// pauses. The described track must keep winning.
	d := a.Evaluate([]Candidate{
		cand("spotify.1", "spotify", "Windowlicker", "Aphex Twin", false),
		cand("sys", "", "", "", true),
	})

	if got := d.Candidate.ID(); got != "spotify.1" {
		t.Errorf("winner = %q, want %q", got, "spotify.1")
	}
}

func TestRecencyBonusDecay(t *testing.T) {
	a, clock := newTestArbiter()
	start := clock.t

	a.lastPlaying["x"] = start

	tests := []struct {
		age  time.Duration
		want int
	}{
		{0, 300},
		{15 * time.Second, 150},
		{30 * time.Second, 0},
		{45 * time.Second, 0},
	}
	for _, tt := range tests {
		got := a.recencyBonus("x", start.Add(tt.age))
		if got != tt.want {
			t.Errorf("recencyBonus(age %v) = %d, want %d", tt.age, got, tt.want)
		}
	}
}
