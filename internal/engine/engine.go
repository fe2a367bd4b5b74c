// Package engine runs the reconciliation loop: it fuses session
// snapshots, window titles and remote lookups into one published
// now-playing state, replaced atomically after each pass.
package engine

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/arbiter"
	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/normalize"
	"github.com/rainaku/vnotch/internal/pipeline"
	"github.com/rainaku/vnotch/internal/platcache"
	"github.com/rainaku/vnotch/internal/progress"
	"github.com/rainaku/vnotch/internal/source"
	"github.com/rainaku/vnotch/internal/throttle"
)

// Engine owns all cross-pass state. Reconciliation passes are strictly
// sequential: the consumer loop serializes them, and a capacity-one gate
// keeps control handlers from touching the predictor mid-pass.
type Engine struct {
	cfg      *config.Config
	ecfg     config.EngineConfig
	registry source.Registry
	pipe     *pipeline.Pipeline
	arb      *arbiter.Arbiter
	norm     *normalize.Normalizer
	detector *throttle.Detector
	predict  *progress.Predictor
	enricher *Enricher

	posJump   time.Duration
	metaRetry time.Duration
	gateWait  time.Duration

	now func() time.Time
	log zerolog.Logger

	gate chan struct{}

	mu      sync.RWMutex
	state   media.PublishedState
	current source.Session
	subs    []chan media.PublishedState
	skip    map[string]struct{}

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New wires an engine from its collaborators. windows may be nil when no
// window enumeration is available; enr may be nil to disable enrichment.
func New(cfg *config.Config, reg source.Registry, windows source.WindowLister, pcache *platcache.Cache, enr *Enricher, log zerolog.Logger) *Engine {
	pcfg := cfg.GetPipeline()
	acfg := cfg.GetArbiter()
	prog := cfg.GetProgress()
	ecfg := cfg.GetEngine()

	e := &Engine{
		cfg:      cfg,
		ecfg:     ecfg,
		registry: reg,
		pipe: pipeline.New(pipeline.Config{
			QueueSize:     pcfg.QueueSize,
			Debounce:      ms(pcfg.DebounceMS),
			IdleBeat:      ms(pcfg.IdleBeatMS),
			ActiveBeat:    ms(pcfg.EventBeatMS),
			ThrottledBeat: ms(pcfg.ThrottledBeatMS),
		}, log),
		arb:       arbiter.New(acfg, log),
		predict:   progress.New(prog, log),
		enricher:  enr,
		posJump:   ms(prog.SeekThresholdMS),
		metaRetry: ms(acfg.MetadataRetryMS),
		gateWait:  ms(ecfg.GateWaitMS),
		now:       time.Now,
		log:       log.With().Str("component", "engine").Logger(),
		gate:      make(chan struct{}, 1),
		skip:      make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	e.norm = normalize.New(cfg.GetTitles(), windows, pcache, log)
	e.detector = throttle.New(cfg.GetThrottle(), e.norm, log)
	return e
}

// Start launches the pipeline, the event pump and the consumer loop,
// then primes a first pass.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.pipe.Start()
	go e.pump()
	go e.run(ctx)
	e.pipe.Offer(pipeline.ChangeSessions)
}

// Stop shuts the loop down and waits for the in-flight pass to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.pipe.Close()
		<-e.done
	})
}

// State returns the last published state.
func (e *Engine) State() media.PublishedState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Subscribe returns a channel receiving every materially different
// published state. Slow receivers miss intermediate updates instead of
// blocking the engine.
func (e *Engine) Subscribe() <-chan media.PublishedState {
	ch := make(chan media.PublishedState, 8)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel handed out by Subscribe.
func (e *Engine) Unsubscribe(ch <-chan media.PublishedState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = slices.DeleteFunc(e.subs, func(c chan media.PublishedState) bool {
		return c == ch
	})
}

// IgnoreSession excludes a session id from enumeration. Used for the
// daemon's own outward MPRIS player, which would otherwise feed back
// into itself.
func (e *Engine) IgnoreSession(id string) {
	e.mu.Lock()
	e.skip[strings.ToLower(id)] = struct{}{}
	e.mu.Unlock()
}

// pump forwards registry events into the pipeline.
func (e *Engine) pump() {
	for ev := range e.registry.Events() {
		e.pipe.Offer(changeFor(ev.Kind))
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for c := range e.pipe.Passes() {
		e.pass(ctx, c)
	}
}

// pass runs one reconciliation behind the gate. Forced passes wait a
// bounded time for an in-flight one; heartbeats are skipped outright,
// duplicate work being worse than staleness.
func (e *Engine) pass(ctx context.Context, c pipeline.Change) {
	wait := time.Duration(0)
	if c.ForcesRefresh() {
		wait = e.gateWait
	}
	if !e.acquire(wait) {
		e.log.Debug().Stringer("change", c).Msg("pass skipped, one already in flight")
		return
	}
	defer e.release()
	e.reconcile(ctx, c)
}

func (e *Engine) acquire(wait time.Duration) bool {
	select {
	case e.gate <- struct{}{}:
		return true
	default:
	}
	if wait <= 0 {
		return false
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case e.gate <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (e *Engine) release() {
	<-e.gate
}

func (e *Engine) ignored(id string) bool {
	lid := strings.ToLower(id)
	e.mu.RLock()
	_, self := e.skip[lid]
	e.mu.RUnlock()
	if self {
		return true
	}
	for _, pat := range e.cfg.IgnoreSessions {
		if pat != "" && strings.Contains(lid, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

func changeFor(k source.EventKind) pipeline.Change {
	switch k {
	case source.EventSessions:
		return pipeline.ChangeSessions
	case source.EventMedia:
		return pipeline.ChangeMedia
	case source.EventPlayback:
		return pipeline.ChangePlayback
	default:
		return pipeline.ChangeTimeline
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
