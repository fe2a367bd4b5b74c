// Package throttle recognizes sources whose reported position has
// frozen (typically backgrounded video tabs with throttled JS timers)
// and substitutes a believable wall-clock extrapolated position until
// real reporting resumes.
package throttle

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/platform"
)

// Scanner is the slice of the normalizer the detector needs: cheap
// classification plus window title re-scans.
type Scanner interface {
	ConfidentPlatform(snap media.Snapshot) (platform.Platform, bool)
	FindPlatformTrack(ctx context.Context, p platform.Platform) (string, bool)
	FindVideoTrack(ctx context.Context) (string, platform.Platform, bool)
}

// Detector watches one selected session across passes. Not safe for
// concurrent use; the engine serializes passes and resets the detector
// on session switches.
type Detector struct {
	cfg     config.ThrottleConfig
	scanner Scanner
	now     func() time.Time
	log     zerolog.Logger

	// Raw observation trackers.
	lastSig        string
	lastPos        time.Duration
	lastPosChange  time.Time
	lastMetaChange time.Time

	// Simulation state. Reset whenever the signature changes or the
	// source stops playing.
	active           bool
	simAnchor        time.Duration
	simStart         time.Time
	simRate          float64
	simTrack         string
	distrustDuration bool
	failingSince     time.Time
}

func New(cfg config.ThrottleConfig, scanner Scanner, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		scanner: scanner,
		now:     time.Now,
		log:     log,
	}
}

// Active reports whether the simulated timeline is engaged. The
// pipeline heartbeat tightens while it is.
func (d *Detector) Active() bool {
	return d.active
}

// Reset drops all observation and simulation state.
func (d *Detector) Reset() {
	d.lastSig = ""
	d.lastPos = 0
	d.lastPosChange = time.Time{}
	d.lastMetaChange = time.Time{}
	d.stopSim()
}

func (d *Detector) stopSim() {
	d.active = false
	d.simAnchor = 0
	d.simStart = time.Time{}
	d.simRate = 0
	d.simTrack = ""
	d.distrustDuration = false
	d.failingSince = time.Time{}
}

// Process inspects the selected session's snapshot and returns it,
// with the position replaced by the simulated timeline while throttle
// mode is engaged. It may also rewrite the track when a window re-scan
// proves the frozen session silently moved on to another video.
func (d *Detector) Process(ctx context.Context, snap media.Snapshot, plat platform.Platform) media.Snapshot {
	now := d.now()
	sig := snap.Signature()

	if sig != d.lastSig {
		d.lastSig = sig
		d.lastMetaChange = now
		d.lastPos = snap.Position
		d.lastPosChange = now
		d.stopSim()
		return snap
	}

	if !snap.Playing {
		d.stopSim()
		d.observe(snap, now)
		return snap
	}

	moved := snap.Position != d.lastPos
	d.observe(snap, now)

	if d.active && moved && now.Sub(d.lastPosChange) <= d.naturalExit() {
		// Reporting resumed; drop the simulation right away instead of
		// waiting for the next stall check.
		d.log.Debug().Str("track", snap.Track).Msg("throttle cleared, position live again")
		d.stopSim()
		return snap
	}

	if !d.active {
		if !plat.Throttleable() {
			return snap
		}
		atEnd, stalled := d.suspicion(snap, now)
		if !stalled {
			return snap
		}
		if !d.recover(ctx, &snap, plat, now, atEnd) {
			return snap
		}
	} else if !d.refresh(ctx, &snap, plat, now) {
		return snap
	}

	return d.simulate(snap, now)
}

func (d *Detector) observe(snap media.Snapshot, now time.Time) {
	if snap.Position != d.lastPos {
		d.lastPos = snap.Position
		d.lastPosChange = now
	}
}

// suspicion reports whether the source looks stalled: frozen position
// while playing, or pinned at the very end with quiet metadata (which
// is otherwise indistinguishable from legitimately finishing).
func (d *Detector) suspicion(snap media.Snapshot, now time.Time) (atEnd, stalled bool) {
	stall := time.Duration(d.cfg.StallMS) * time.Millisecond
	quiet := time.Duration(d.cfg.MetaQuietMS) * time.Millisecond

	if !d.lastPosChange.IsZero() && now.Sub(d.lastPosChange) > stall {
		return false, true
	}
	if snap.ProgressRatio() > d.cfg.EndRatio && !d.lastMetaChange.IsZero() && now.Sub(d.lastMetaChange) > quiet {
		return true, true
	}
	return false, false
}

// recover tries to engage the simulation for a suspected stall.
func (d *Detector) recover(ctx context.Context, snap *media.Snapshot, plat platform.Platform, now time.Time, atEnd bool) bool {
	// Confident classification: simulate directly from the last known
	// good position.
	if p, ok := d.scanner.ConfidentPlatform(*snap); ok && p.Throttleable() {
		d.startSim(d.lastPos, d.simClock(now), snap.EffectiveRate(), atEnd)
		d.log.Debug().Str("track", snap.Track).Str("platform", p.Name).Msg("throttle engaged")
		return true
	}

	// Otherwise consult the window titles.
	track, ok := d.scanTitle(ctx, plat)
	if !ok {
		return false
	}
	if !sameTitle(track, snap.Track) {
		// The tab moved on to another video while frozen.
		d.trackChange(snap, track, now)
		return true
	}
	// Same video, still stalled: extrapolate from the last time the
	// reporting was known good.
	d.startSim(d.lastPos, d.simClock(now), snap.EffectiveRate(), atEnd)
	d.log.Debug().Str("track", snap.Track).Msg("throttle engaged via window title")
	return true
}

// refresh keeps an engaged simulation honest: verify the tab still
// shows the same video, detect silent track changes, and give up after
// sustained failure.
func (d *Detector) refresh(ctx context.Context, snap *media.Snapshot, plat platform.Platform, now time.Time) bool {
	if _, ok := d.scanner.ConfidentPlatform(*snap); ok {
		d.failingSince = time.Time{}
		return true
	}

	track, ok := d.scanTitle(ctx, plat)
	if ok {
		d.failingSince = time.Time{}
		if !sameTitle(track, d.displayedTitle(*snap)) {
			d.trackChange(snap, track, now)
		}
		return true
	}

	if d.failingSince.IsZero() {
		d.failingSince = now
		return true
	}
	if now.Sub(d.failingSince) > time.Duration(d.cfg.ExitFailMS)*time.Millisecond {
		// Nothing confirms the media anymore; assume it really stopped.
		d.log.Debug().Str("track", snap.Track).Msg("throttle abandoned, no confirmation")
		d.stopSim()
		return false
	}
	return true
}

func (d *Detector) scanTitle(ctx context.Context, plat platform.Platform) (string, bool) {
	if d.scanner == nil {
		return "", false
	}
	if plat.Kind == platform.KindVideo {
		return d.scanner.FindPlatformTrack(ctx, plat)
	}
	track, _, ok := d.scanner.FindVideoTrack(ctx)
	return track, ok
}

// trackChange switches the simulation to a silently-changed video:
// fresh title, position near the start, duration unknown until the
// session reports again. The raw observation trackers are left alone;
// the session itself still reports the old frozen metadata.
func (d *Detector) trackChange(snap *media.Snapshot, track string, now time.Time) {
	d.log.Debug().Str("from", d.displayedTitle(*snap)).Str("to", track).Msg("track changed while throttled")
	pos := time.Duration(d.cfg.TrackChangePosMS) * time.Millisecond
	d.startSim(pos, now, snap.EffectiveRate(), true)
	d.simTrack = track
}

// displayedTitle is what the consumer currently sees for this session:
// the simulation's substituted title when one is set, the raw one
// otherwise.
func (d *Detector) displayedTitle(snap media.Snapshot) string {
	if d.simTrack != "" {
		return d.simTrack
	}
	return snap.Track
}

func (d *Detector) startSim(anchor time.Duration, start time.Time, rate float64, distrustDuration bool) {
	d.active = true
	d.simAnchor = anchor
	d.simStart = start
	d.simRate = rate
	d.distrustDuration = distrustDuration
	d.failingSince = time.Time{}
}

// simClock picks the wall-clock origin for a fresh simulation: the
// frozen position was valid when it last moved, unless metadata changed
// after that (a track start), in which case time is counted from there.
func (d *Detector) simClock(now time.Time) time.Time {
	start := d.lastPosChange
	if d.lastMetaChange.After(start) {
		start = d.lastMetaChange
	}
	if start.IsZero() {
		start = now
	}
	return start
}

// simulate substitutes the extrapolated position (and the re-scanned
// title, when the frozen session was caught showing another video).
func (d *Detector) simulate(snap media.Snapshot, now time.Time) media.Snapshot {
	if d.simTrack != "" {
		snap.Track = d.simTrack
		snap.ArtURL = ""
	}

	elapsed := now.Sub(d.simStart)
	if elapsed < 0 {
		elapsed = 0
	}
	pos := d.simAnchor + time.Duration(float64(elapsed)*d.simRate)

	if d.distrustDuration {
		// At-end-stuck: the reported duration is stale, publish an
		// indeterminate timeline instead of clamping into it.
		snap.Duration = 0
	} else if snap.Duration > 0 && pos > snap.Duration {
		pos = snap.Duration
	}

	snap.Position = pos
	snap.SampledAt = now
	snap.Throttled = true
	return snap
}

func (d *Detector) naturalExit() time.Duration {
	return time.Duration(d.cfg.NaturalExitMS) * time.Millisecond
}

func sameTitle(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
