// Package pipeline serializes concurrent change notifications into
// ordered work for a single consumer. Producers enqueue typed change
// tags without ever blocking; the consumer loop debounces a burst,
// merges the queued tags and hands one merged tag to the engine per
// reconciliation pass. A mode-dependent heartbeat keeps passes coming
// when the sources go quiet.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Change is a bitset of what a reconciliation pass should look at.
type Change uint8

const (
	// ChangeSessions: the set of live sessions changed.
	ChangeSessions Change = 1 << iota
	// ChangeMedia: track metadata changed somewhere.
	ChangeMedia
	// ChangePlayback: play state, position or rate changed.
	ChangePlayback
	// ChangeTimeline: an explicit seek was signalled.
	ChangeTimeline
	// ChangeBeat: periodic heartbeat, no known change.
	ChangeBeat
)

// Has reports whether all bits in flag are set.
func (c Change) Has(flag Change) bool {
	return c&flag == flag
}

// ForcesRefresh reports whether the tag invalidates cached metadata.
// Heartbeats and pure playback ticks keep the signature-unchanged fast
// path; session and metadata changes do not.
func (c Change) ForcesRefresh() bool {
	return c.Has(ChangeSessions) || c.Has(ChangeMedia)
}

func (c Change) String() string {
	if c == 0 {
		return "none"
	}
	names := []struct {
		flag Change
		name string
	}{
		{ChangeSessions, "sessions"},
		{ChangeMedia, "media"},
		{ChangePlayback, "playback"},
		{ChangeTimeline, "timeline"},
		{ChangeBeat, "beat"},
	}
	out := ""
	for _, n := range names {
		if !c.Has(n.flag) {
			continue
		}
		if out != "" {
			out += "+"
		}
		out += n.name
	}
	return out
}

// Mode selects the heartbeat interval.
type Mode int32

const (
	// ModeIdle: nothing is playing.
	ModeIdle Mode = iota
	// ModeActive: normal playback, events arrive on their own.
	ModeActive
	// ModeThrottled: a stalled source is being simulated and needs
	// frequent re-evaluation.
	ModeThrottled
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeThrottled:
		return "throttled"
	default:
		return "idle"
	}
}

// Config carries the pipeline tuning knobs.
type Config struct {
	QueueSize     int
	Debounce      time.Duration
	IdleBeat      time.Duration
	ActiveBeat    time.Duration
	ThrottledBeat time.Duration
}

// Pipeline fans asynchronous producers into one consumer channel.
type Pipeline struct {
	cfg Config
	log zerolog.Logger

	in   chan Change
	out  chan Change
	kick chan struct{}

	mode    atomic.Int32
	dropped atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a pipeline. Call Start to run the consumer loop.
func New(cfg Config, log zerolog.Logger) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Pipeline{
		cfg:  cfg,
		log:  log,
		in:   make(chan Change, cfg.QueueSize),
		out:  make(chan Change, 1),
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the consumer loop.
func (p *Pipeline) Start() {
	go p.run()
}

// Close stops the loop and closes Passes.
func (p *Pipeline) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// Passes returns the channel merged change tags arrive on, one per due
// reconciliation pass. Closed on Close.
func (p *Pipeline) Passes() <-chan Change {
	return p.out
}

// Offer enqueues a change tag without blocking. When the queue is full
// the oldest pending tag is dropped: correctness depends on "something
// happened", not on tag count or order.
func (p *Pipeline) Offer(c Change) {
	select {
	case p.in <- c:
		return
	default:
	}

	select {
	case <-p.in:
		p.dropped.Add(1)
	default:
	}
	select {
	case p.in <- c:
	default:
	}
}

// SetMode switches the heartbeat interval. The engine calls this after
// every pass from the resulting state.
func (p *Pipeline) SetMode(m Mode) {
	if p.mode.Swap(int32(m)) == int32(m) {
		return
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Dropped reports how many tags overflow has discarded.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Pipeline) beat() time.Duration {
	switch Mode(p.mode.Load()) {
	case ModeThrottled:
		return p.cfg.ThrottledBeat
	case ModeActive:
		return p.cfg.ActiveBeat
	default:
		return p.cfg.IdleBeat
	}
}

func (p *Pipeline) run() {
	defer close(p.done)
	defer close(p.out)

	beat := time.NewTimer(p.beat())
	defer beat.Stop()

	for {
		select {
		case <-p.stop:
			return

		case first := <-p.in:
			merged, ok := p.debounce(first)
			if !ok {
				return
			}
			p.emit(merged)
			resetTimer(beat, p.beat())

		case <-p.kick:
			resetTimer(beat, p.beat())

		case <-beat.C:
			p.emit(ChangeBeat)
			beat.Reset(p.beat())
		}
	}
}

// debounce waits one coalescing window after the first tag, then drains
// everything queued and merges it. Returns false on shutdown.
func (p *Pipeline) debounce(first Change) (Change, bool) {
	merged := first

	if p.cfg.Debounce > 0 {
		window := time.NewTimer(p.cfg.Debounce)
		select {
		case <-window.C:
		case <-p.stop:
			window.Stop()
			return 0, false
		}
	}

	for {
		select {
		case more := <-p.in:
			merged |= more
		default:
			return merged, true
		}
	}
}

// emit hands a merged tag to the consumer. If a pass is already
// pending its flags are folded into the new tag instead of queueing a
// second pass.
func (p *Pipeline) emit(c Change) {
	for {
		select {
		case p.out <- c:
			return
		default:
		}
		select {
		case prev := <-p.out:
			c |= prev
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
