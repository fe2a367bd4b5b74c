package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/pipeline"
	"github.com/rainaku/vnotch/internal/platform"
	"github.com/rainaku/vnotch/internal/source"
)

// ErrNoSession is returned by control operations when no session is
// currently arbitrated.
var ErrNoSession = errors.New("engine: no active session")

// PlayPause toggles playback of the arbitrated session.
func (e *Engine) PlayPause(ctx context.Context) error {
	s, st := e.snapshotCurrent()
	if s == nil {
		return ErrNoSession
	}
	var err error
	if st.Playing {
		err = s.Pause(ctx)
	} else {
		err = s.Play(ctx)
	}
	if err != nil {
		return fmt.Errorf("toggling playback: %w", err)
	}
	e.pipe.Offer(pipeline.ChangePlayback)
	return nil
}

// Next skips to the next track. Video sources have no track list, so
// the skip degrades to a forward seek.
func (e *Engine) Next(ctx context.Context) error {
	s, st := e.snapshotCurrent()
	if s == nil {
		return ErrNoSession
	}
	if videoSource(st) || !s.CanGoNext() {
		return e.seekSession(ctx, s, st, st.PositionAt(e.now())+e.videoSkip())
	}
	if err := s.Next(ctx); err != nil {
		return fmt.Errorf("skipping to next track: %w", err)
	}
	e.pipe.Offer(pipeline.ChangeMedia)
	return nil
}

// Previous goes back one track, or seeks backwards on video sources.
func (e *Engine) Previous(ctx context.Context) error {
	s, st := e.snapshotCurrent()
	if s == nil {
		return ErrNoSession
	}
	if videoSource(st) || !s.CanGoPrevious() {
		return e.seekSession(ctx, s, st, st.PositionAt(e.now())-e.videoSkip())
	}
	if err := s.Previous(ctx); err != nil {
		return fmt.Errorf("skipping to previous track: %w", err)
	}
	e.pipe.Offer(pipeline.ChangeMedia)
	return nil
}

// SeekTo jumps the arbitrated session to an absolute position.
func (e *Engine) SeekTo(ctx context.Context, pos time.Duration) error {
	s, st := e.snapshotCurrent()
	if s == nil {
		return ErrNoSession
	}
	return e.seekSession(ctx, s, st, pos)
}

// SeekBy jumps relative to the currently displayed position.
func (e *Engine) SeekBy(ctx context.Context, delta time.Duration) error {
	s, st := e.snapshotCurrent()
	if s == nil {
		return ErrNoSession
	}
	return e.seekSession(ctx, s, st, st.PositionAt(e.now())+delta)
}

func (e *Engine) seekSession(ctx context.Context, s source.Session, st media.PublishedState, pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}
	if !st.Indeterminate && st.Duration > 0 && pos > st.Duration {
		pos = st.Duration
	}
	if err := s.SeekTo(ctx, pos.Microseconds()); err != nil {
		return fmt.Errorf("seeking: %w", err)
	}
	e.userSeek(pos)
	e.pipe.Offer(pipeline.ChangeTimeline)
	return nil
}

// userSeek tells the predictor about a deliberate jump so the echoed
// samples that follow are not misread as noise. Skipped when a pass
// holds the gate past the wait bound; the jump then registers as an
// observed seek on the next pass.
func (e *Engine) userSeek(pos time.Duration) {
	if !e.acquire(e.gateWait) {
		return
	}
	defer e.release()
	e.predict.UserSeek(pos)
}

func (e *Engine) snapshotCurrent() (source.Session, media.PublishedState) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current, e.state
}

func (e *Engine) videoSkip() time.Duration {
	return time.Duration(e.ecfg.VideoSkipSeconds) * time.Second
}

func videoSource(st media.PublishedState) bool {
	p, ok := platform.ByName(st.Source)
	return ok && p.Kind == platform.KindVideo
}
