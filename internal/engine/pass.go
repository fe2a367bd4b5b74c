package engine

import (
	"context"
	"slices"
	"time"

	"github.com/rainaku/vnotch/internal/arbiter"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/normalize"
	"github.com/rainaku/vnotch/internal/pipeline"
	"github.com/rainaku/vnotch/internal/platform"
	"github.com/rainaku/vnotch/internal/progress"
	"github.com/rainaku/vnotch/internal/source"
)

// reconcile runs one full pass: enumerate, arbitrate, normalize, detect
// throttling, predict progress, publish. All reads happen up front so
// the pass works on a consistent snapshot of the world.
func (e *Engine) reconcile(ctx context.Context, change pipeline.Change) {
	cands, handles := e.collect(ctx)
	dec := e.arb.Evaluate(cands)

	if dec.Switched {
		e.predict.Reset()
		e.detector.Reset()
	}

	if !dec.OK {
		e.predict.Reset()
		e.detector.Reset()
		e.setCurrent(nil)
		e.publish(media.PublishedState{State: media.StateIdle, PublishedAt: e.now()})
		e.pipe.SetMode(pipeline.ModeIdle)
		return
	}

	snap := dec.Candidate.Snapshot
	plat := dec.Candidate.Platform

	snap, plat, usable := e.norm.Normalize(ctx, snap, plat)
	if !usable {
		// The winner has nothing displayable yet. Keep its playback and
		// timeline so the eventual title lands on a warm predictor.
		snap.Track, snap.Artist, snap.Album = "", "", ""
	}

	snap = e.detector.Process(ctx, snap, plat)
	e.norm.SetRecovering(e.detector.Active())

	frame := e.predict.Observe(snap)

	st := e.compose(snap, frame)
	e.setCurrent(handles[snap.SessionID])
	e.publish(st)

	if usable && !dec.Grace {
		e.enricher.Kick(ctx, st, plat.Kind, e.applyEnrichment)
	}
	e.updateMode(snap)
}

// collect enumerates sessions and snapshots each one. Any single failing
// session is dropped from the pass rather than propagated.
func (e *Engine) collect(ctx context.Context) ([]arbiter.Candidate, map[string]source.Session) {
	sessions, err := e.registry.Sessions(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("session enumeration failed")
		return nil, nil
	}

	cands := make([]arbiter.Candidate, 0, len(sessions))
	handles := make(map[string]source.Session, len(sessions))
	for _, s := range sessions {
		id := s.ID()
		if e.ignored(id) {
			continue
		}
		snap, err := s.Snapshot(ctx)
		if err != nil {
			e.log.Debug().Err(err).Str("session", id).Msg("snapshot failed")
			continue
		}
		if !snap.HasTrack() {
			// Players often flip playback state before metadata lands.
			snap = e.reread(ctx, s, snap)
		}
		snap.SessionID = id
		plat, _ := platform.BySessionID(id)
		handles[id] = s
		cands = append(cands, arbiter.Candidate{
			Snapshot:  snap,
			Platform:  plat,
			RealTitle: !normalize.JunkTitle(snap.Track, id),
		})
	}
	return cands, handles
}

func (e *Engine) reread(ctx context.Context, s source.Session, snap media.Snapshot) media.Snapshot {
	if e.metaRetry <= 0 {
		return snap
	}
	select {
	case <-ctx.Done():
		return snap
	case <-time.After(e.metaRetry):
	}
	again, err := s.Snapshot(ctx)
	if err != nil {
		return snap
	}
	return again
}

func (e *Engine) compose(snap media.Snapshot, frame progress.Frame) media.PublishedState {
	st := media.PublishedState{
		Track:     snap.Track,
		Artist:    snap.Artist,
		Album:     snap.Album,
		Source:    snap.Source,
		SessionID: snap.SessionID,
		ArtURL:    snap.ArtURL,

		Position:      frame.Position,
		Duration:      frame.Duration,
		Rate:          frame.Rate,
		State:         frame.State,
		Playing:       snap.Playing,
		CanSeek:       snap.CanSeek,
		Throttled:     snap.Throttled,
		Indeterminate: frame.Indeterminate,

		PublishedAt: frame.AnchoredAt,
	}
	if enr, ok := e.enricher.Cached(st.Signature()); ok {
		st.VideoID = enr.VideoID
		st.VideoAuthor = enr.Author
		if enr.ArtworkPath != "" {
			st.ArtworkPath = enr.ArtworkPath
		}
	}
	return st
}

// publish replaces the stored state and notifies subscribers when the
// new state is materially different. Equivalent re-samples still replace
// the stored anchor so PositionAt stays fresh, but fire no event.
func (e *Engine) publish(st media.PublishedState) {
	e.mu.Lock()
	changed := st.DiffersFrom(e.state, e.posJump)
	e.state = st
	var subs []chan media.PublishedState
	if changed {
		subs = slices.Clone(e.subs)
	}
	e.mu.Unlock()

	if !changed {
		return
	}
	e.log.Debug().
		Str("track", st.Track).
		Str("artist", st.Artist).
		Str("source", st.Source).
		Bool("playing", st.Playing).
		Bool("throttled", st.Throttled).
		Msg("state published")
	notify(subs, st)
}

func (e *Engine) setCurrent(s source.Session) {
	e.mu.Lock()
	e.current = s
	e.mu.Unlock()
}

func (e *Engine) updateMode(snap media.Snapshot) {
	switch {
	case e.detector.Active():
		e.pipe.SetMode(pipeline.ModeThrottled)
	case snap.Playing:
		e.pipe.SetMode(pipeline.ModeActive)
	default:
		e.pipe.SetMode(pipeline.ModeIdle)
	}
}

// applyEnrichment writes background lookup results into the published
// state, provided the track has not changed since the lookup started.
func (e *Engine) applyEnrichment(sig string, enr Enrichment) {
	e.mu.Lock()
	if e.state.Signature() != sig {
		e.mu.Unlock()
		return
	}
	st := e.state
	st.VideoID = enr.VideoID
	st.VideoAuthor = enr.Author
	if enr.ArtworkPath != "" {
		st.ArtworkPath = enr.ArtworkPath
	}
	e.state = st
	subs := slices.Clone(e.subs)
	e.mu.Unlock()

	e.log.Debug().
		Str("video_id", enr.VideoID).
		Str("artwork", enr.ArtworkPath).
		Msg("enrichment applied")
	notify(subs, st)
}

func notify(subs []chan media.PublishedState, st media.PublishedState) {
	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
}
