// Package arbiter picks exactly one canonical session among the
// competing sessions the OS reports, favoring playing, well-described
// and sticky sessions while damping rapid flapping.
package arbiter

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/platform"
)

// Candidate is one enumerated session, already snapshotted and
// pre-classified by session id.
type Candidate struct {
	Snapshot media.Snapshot
	Platform platform.Platform
	// RealTitle is true when the title survived junk filtering (not a
	// bare app name or placeholder).
	RealTitle bool
}

// ID returns the candidate's session id.
func (c Candidate) ID() string {
	return c.Snapshot.SessionID
}

// Decision is the outcome of one arbitration pass.
type Decision struct {
	Candidate Candidate
	// OK is false when there is nothing to report at all.
	OK bool
	// Switched is true when the winner changed since the last pass;
	// cached metadata for the old session is stale.
	Switched bool
	// Grace is true while a vanished winner is still being reported.
	Grace bool
}

// Arbiter holds the cross-pass selection state: who is currently
// reported, who is challenging, and when sessions last played.
type Arbiter struct {
	cfg config.ArbiterConfig
	now func() time.Time
	log zerolog.Logger

	lastPlaying map[string]time.Time

	current     string
	currentCand Candidate

	challenger      string
	challengerSince time.Time

	missingSince time.Time
}

func New(cfg config.ArbiterConfig, log zerolog.Logger) *Arbiter {
	return &Arbiter{
		cfg:         cfg,
		now:         time.Now,
		log:         log,
		lastPlaying: make(map[string]time.Time),
	}
}

// Reset drops all selection state.
func (a *Arbiter) Reset() {
	a.lastPlaying = make(map[string]time.Time)
	a.current = ""
	a.currentCand = Candidate{}
	a.challenger = ""
	a.challengerSince = time.Time{}
	a.missingSince = time.Time{}
}

// Current returns the currently reported session id, if any.
func (a *Arbiter) Current() string {
	return a.current
}

// Evaluate scores the candidates and returns the session to report.
// Not safe for concurrent use; the engine serializes passes.
func (a *Arbiter) Evaluate(cands []Candidate) Decision {
	now := a.now()
	a.recordPlaying(cands, now)

	best, bestScore, ok := a.pickBest(cands, now)

	if !ok {
		// The current winner is gone (it always qualifies when present).
		return a.noQualified(cands, now)
	}
	a.missingSince = time.Time{}

	if a.current == "" {
		return a.commit(best, now)
	}

	if best.ID() == a.current {
		a.challenger = ""
		a.currentCand = best
		return Decision{Candidate: best, OK: true}
	}

	// A different session outscores the current one. Hold the switch
	// until the challenger has stayed best long enough.
	if a.challenger != best.ID() {
		a.challenger = best.ID()
		a.challengerSince = now
	}

	hold := time.Duration(a.cfg.HoldMS) * time.Millisecond
	if a.currentCand.Platform.Premium {
		hold = time.Duration(a.cfg.PremiumHoldMS) * time.Millisecond
	}

	if now.Sub(a.challengerSince) >= hold {
		a.log.Debug().
			Str("from", a.current).
			Str("to", best.ID()).
			Int("score", bestScore).
			Msg("session switch")
		return a.commit(best, now)
	}

	// Keep reporting the previous session: its live snapshot when still
	// enumerated, the remembered one otherwise.
	if cur, present := findSession(cands, a.current); present {
		a.currentCand = cur
		return Decision{Candidate: cur, OK: true}
	}
	if a.missingSince.IsZero() {
		a.missingSince = now
	}
	if now.Sub(a.missingSince) < time.Duration(a.cfg.GraceMS)*time.Millisecond {
		return Decision{Candidate: a.currentCand, OK: true, Grace: true}
	}
	return a.commit(best, now)
}

// noQualified handles the case where no candidate qualifies: report the
// vanished winner through the grace window, then fall back to the best
// session regardless of qualification.
func (a *Arbiter) noQualified(cands []Candidate, now time.Time) Decision {
	if a.current != "" {
		if a.missingSince.IsZero() {
			a.missingSince = now
		}
		if now.Sub(a.missingSince) < time.Duration(a.cfg.GraceMS)*time.Millisecond {
			return Decision{Candidate: a.currentCand, OK: true, Grace: true}
		}
	}

	fallback := Candidate{}
	fallbackScore := -1
	for _, c := range cands {
		if s := a.score(c, now); s > fallbackScore {
			fallback = c
			fallbackScore = s
		}
	}
	if fallbackScore < 0 {
		a.current = ""
		a.currentCand = Candidate{}
		a.challenger = ""
		return Decision{}
	}
	return a.commit(fallback, now)
}

func (a *Arbiter) commit(c Candidate, now time.Time) Decision {
	switched := a.current != c.ID()
	a.current = c.ID()
	a.currentCand = c
	a.challenger = ""
	a.missingSince = time.Time{}
	return Decision{Candidate: c, OK: true, Switched: switched}
}

// pickBest returns the highest-scoring qualified candidate. A candidate
// qualifies when it is playing or is the previously selected session:
// a brand-new, unplaying session never wins outright.
func (a *Arbiter) pickBest(cands []Candidate, now time.Time) (Candidate, int, bool) {
	best := Candidate{}
	bestScore := -1
	found := false
	for _, c := range cands {
		if !c.Snapshot.Playing && c.ID() != a.current {
			continue
		}
		if s := a.score(c, now); s > bestScore {
			best = c
			bestScore = s
			found = true
		}
	}
	return best, bestScore, found
}

// score computes the selection score. The real-title term dominates so a
// metadata-less system sound session never beats a described track.
func (a *Arbiter) score(c Candidate, now time.Time) int {
	s := 0
	if strings.TrimSpace(c.Snapshot.Track) != "" {
		s += a.cfg.TitleWeight
	}
	if strings.TrimSpace(c.Snapshot.Artist) != "" {
		s += a.cfg.ArtistWeight
	}
	if c.Snapshot.ArtURL != "" {
		s += a.cfg.ArtWeight
	}
	s += c.Platform.Weight
	if c.Snapshot.Playing {
		s += a.cfg.PlayingWeight
	}
	s += a.recencyBonus(c.ID(), now)
	if c.RealTitle {
		s += a.cfg.RealTitleWeight
	}
	return s
}

// recencyBonus scales linearly from full weight down to zero across the
// recency window, so a just-paused track is not abandoned immediately.
func (a *Arbiter) recencyBonus(id string, now time.Time) int {
	seen, ok := a.lastPlaying[id]
	if !ok {
		return 0
	}
	window := time.Duration(a.cfg.RecencyWindowMS) * time.Millisecond
	age := now.Sub(seen)
	if age < 0 {
		age = 0
	}
	if age >= window {
		return 0
	}
	frac := 1 - float64(age)/float64(window)
	return int(float64(a.cfg.RecencyWeight) * frac)
}

func (a *Arbiter) recordPlaying(cands []Candidate, now time.Time) {
	for _, c := range cands {
		if c.Snapshot.Playing {
			a.lastPlaying[c.ID()] = now
		}
	}
	// Sweep entries old enough to never score again.
	cutoff := now.Add(-2 * time.Duration(a.cfg.RecencyWindowMS) * time.Millisecond)
	for id, seen := range a.lastPlaying {
		if seen.Before(cutoff) {
			delete(a.lastPlaying, id)
		}
	}
}

func findSession(cands []Candidate, id string) (Candidate, bool) {
	for _, c := range cands {
		if c.ID() == id {
			return c, true
		}
	}
	return Candidate{}, false
}
