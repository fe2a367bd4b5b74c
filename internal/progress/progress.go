// Package progress turns discrete, noisy position samples into a
// smooth, monotonic timeline. It corrects for sample staleness, detects
// seeks, re-anchors on measured drift and refuses to move backwards for
// anything short of an actual seek.
package progress

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/media"
)

// Frame is one published prediction: the displayed position as of
// AnchoredAt, plus everything a consumer needs to extrapolate until the
// next frame.
type Frame struct {
	Position      time.Duration
	AnchoredAt    time.Time
	Duration      time.Duration
	Rate          float64
	State         media.ProgressState
	Indeterminate bool
}

// Predictor is the per-track state machine: Idle -> Playing <-> Paused
// <-> Seeking. Driven from the engine loop only.
type Predictor struct {
	cfg config.ProgressConfig
	now func() time.Time
	log zerolog.Logger

	state media.ProgressState
	sig   string

	// Prediction anchor: position was anchor at anchorTime, advancing
	// at rate while playing.
	anchor     time.Duration
	anchorTime time.Time
	rate       float64

	lastDisplayed time.Duration

	playStarted    time.Time // warmup origin
	lastSync       time.Time
	stabilizeUntil time.Time // post-seek settle window
	debounceUntil  time.Time // user-seek echo window
}

func New(cfg config.ProgressConfig, log zerolog.Logger) *Predictor {
	return &Predictor{
		cfg:   cfg,
		now:   time.Now,
		log:   log,
		state: media.StateIdle,
	}
}

// State returns the current machine state.
func (p *Predictor) State() media.ProgressState {
	return p.state
}

// Reset returns the machine to Idle, dropping all anchors.
func (p *Predictor) Reset() {
	p.state = media.StateIdle
	p.sig = ""
	p.anchor = 0
	p.anchorTime = time.Time{}
	p.rate = 0
	p.lastDisplayed = 0
	p.playStarted = time.Time{}
	p.lastSync = time.Time{}
	p.stabilizeUntil = time.Time{}
	p.debounceUntil = time.Time{}
}

// UserSeek re-anchors immediately to an explicit caller-driven target
// and opens a longer debounce window so the echoed confirmation from
// the session does not fight the user's intent.
func (p *Predictor) UserSeek(target time.Duration) {
	now := p.now()
	if target < 0 {
		target = 0
	}
	p.anchor = target
	p.anchorTime = now
	p.lastDisplayed = target
	p.state = media.StateSeeking
	p.debounceUntil = now.Add(time.Duration(p.cfg.UserSeekDebounceMS) * time.Millisecond)
	p.stabilizeUntil = time.Time{}
	p.lastSync = now
}

// Observe processes one sample and returns the frame to publish.
func (p *Predictor) Observe(snap media.Snapshot) Frame {
	now := p.now()

	if sig := snap.Signature(); sig != p.sig {
		p.trackChange(sig, now)
	}

	// Clamp into the track so a position pinned at the end never looks
	// like a seek against the clamped display.
	observed := clamp(p.stalenessCorrected(snap, now), snap.Duration)

	if !snap.Playing {
		return p.observePaused(snap, observed, now)
	}
	return p.observePlaying(snap, observed, now)
}

// stalenessCorrected advances the sampled position by the sample's age,
// clamped to reject clock skew; the OS measured the value earlier than
// we are seeing it.
func (p *Predictor) stalenessCorrected(snap media.Snapshot, now time.Time) time.Duration {
	if !snap.Playing || snap.SampledAt.IsZero() {
		return snap.Position
	}
	staleness := now.Sub(snap.SampledAt)
	if staleness < 0 {
		staleness = 0
	}
	if max := time.Duration(p.cfg.StalenessMaxMS) * time.Millisecond; staleness > max {
		staleness = max
	}
	return snap.Position + time.Duration(float64(staleness)*snap.EffectiveRate())
}

func (p *Predictor) trackChange(sig string, now time.Time) {
	p.sig = sig
	p.state = media.StateIdle
	p.anchor = 0
	p.anchorTime = time.Time{}
	p.lastDisplayed = 0
	p.playStarted = time.Time{}
	p.lastSync = time.Time{}
	p.stabilizeUntil = time.Time{}
	p.debounceUntil = time.Time{}
}

func (p *Predictor) observePaused(snap media.Snapshot, observed time.Duration, now time.Time) Frame {
	p.state = media.StatePaused
	p.anchor = clamp(observed, snap.Duration)
	p.anchorTime = now
	p.rate = 0
	p.lastDisplayed = p.anchor
	return p.frame(snap, p.anchor, now)
}

func (p *Predictor) observePlaying(snap media.Snapshot, observed time.Duration, now time.Time) Frame {
	rate := snap.EffectiveRate()

	// Fresh playback: anchor directly on the corrected observation.
	if p.state != media.StatePlaying && p.state != media.StateSeeking {
		p.state = media.StatePlaying
		p.rate = rate
		p.setAnchor(observed, now)
		p.playStarted = now
		p.lastSync = now
		p.lastDisplayed = clamp(observed, snap.Duration)
		return p.frame(snap, p.lastDisplayed, now)
	}

	p.rate = rate
	predicted := p.predictedAt(now)
	displayed := p.displayedNow(predicted, snap.Duration)

	// Inside the user-seek window the session's reports echo the old
	// position for a while; trust our own anchor instead.
	if now.Before(p.debounceUntil) {
		return p.display(snap, predicted, now)
	}
	if p.state == media.StateSeeking {
		p.state = media.StatePlaying
	}

	// A jump beyond the threshold is a seek, not noise. Compared
	// against what is on screen right now, not against a stale sample.
	if delta := abs(observed - displayed); delta > p.seekThreshold(snap.Duration) {
		p.log.Debug().
			Dur("from", displayed).
			Dur("to", observed).
			Msg("seek detected")
		p.setAnchor(observed, now)
		p.stabilizeUntil = now.Add(time.Duration(p.cfg.StabilizationMS) * time.Millisecond)
		p.lastSync = now
		p.lastDisplayed = clamp(observed, snap.Duration)
		return p.frame(snap, p.lastDisplayed, now)
	}

	// Right after a seek samples are accepted but not drift-corrected.
	if now.Before(p.stabilizeUntil) {
		return p.display(snap, predicted, now)
	}

	p.driftCorrect(observed, predicted, displayed, now)
	return p.display(snap, p.predictedAt(now), now)
}

// driftCorrect compares prediction against observation at most once per
// sync interval and re-anchors when they disagree beyond tolerance.
// Warmup (right after playback starts) checks more often and tolerates
// more, to converge quickly on initial under-reporting.
func (p *Predictor) driftCorrect(observed, predicted, displayed time.Duration, now time.Time) {
	interval := time.Duration(p.cfg.SyncIntervalMS) * time.Millisecond
	tolerance := time.Duration(p.cfg.ToleranceMS) * time.Millisecond
	if !p.playStarted.IsZero() && now.Sub(p.playStarted) < time.Duration(p.cfg.WarmupWindowMS)*time.Millisecond {
		interval = time.Duration(p.cfg.WarmupSyncMS) * time.Millisecond
		tolerance = time.Duration(p.cfg.WarmupToleranceMS) * time.Millisecond
	}

	if now.Sub(p.lastSync) < interval {
		return
	}
	p.lastSync = now

	if abs(observed-predicted) <= tolerance {
		return
	}

	// OS APIs occasionally return a briefly-stale smaller value; only a
	// detected seek may move the display backwards further than this.
	antiBack := time.Duration(p.cfg.AntiBackwardsMS) * time.Millisecond
	if observed < displayed-antiBack {
		p.log.Debug().
			Dur("observed", observed).
			Dur("displayed", displayed).
			Msg("stale backwards sample rejected")
		return
	}

	p.setAnchor(observed, now)
}

// displayedNow is what the consumer sees at this instant: the clamped
// prediction, floored by the monotonic guarantee.
func (p *Predictor) displayedNow(predicted, duration time.Duration) time.Duration {
	pos := clamp(predicted, duration)
	if pos < p.lastDisplayed {
		pos = p.lastDisplayed
	}
	return pos
}

// display publishes a monotonic position: while playing the same track
// the displayed value never decreases, even if the anchor slid back.
func (p *Predictor) display(snap media.Snapshot, predicted time.Duration, now time.Time) Frame {
	pos := p.displayedNow(predicted, snap.Duration)
	p.lastDisplayed = pos
	return p.frame(snap, pos, now)
}

func (p *Predictor) frame(snap media.Snapshot, pos time.Duration, now time.Time) Frame {
	return Frame{
		Position:      pos,
		AnchoredAt:    now,
		Duration:      snap.Duration,
		Rate:          p.rate,
		State:         p.state,
		Indeterminate: indeterminate(snap, pos),
	}
}

// indeterminate reports whether the timeline cannot be trusted as a
// bounded bar: unknown duration with a position already showing on an
// unseekable source, or a simulated throttled timeline with its
// duration distrusted.
func indeterminate(snap media.Snapshot, pos time.Duration) bool {
	if snap.Duration > 0 {
		return false
	}
	if snap.Throttled {
		return true
	}
	return pos > 0 && !snap.CanSeek
}

func (p *Predictor) setAnchor(pos time.Duration, now time.Time) {
	if pos < 0 {
		pos = 0
	}
	p.anchor = pos
	p.anchorTime = now
}

func (p *Predictor) predictedAt(now time.Time) time.Duration {
	if p.anchorTime.IsZero() {
		return p.anchor
	}
	elapsed := now.Sub(p.anchorTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return p.anchor + time.Duration(float64(elapsed)*p.rate)
}

func (p *Predictor) seekThreshold(duration time.Duration) time.Duration {
	threshold := time.Duration(p.cfg.SeekThresholdMS) * time.Millisecond
	if duration > 0 {
		if pct := duration / 100; pct > threshold {
			threshold = pct
		}
	}
	return threshold
}

func clamp(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
