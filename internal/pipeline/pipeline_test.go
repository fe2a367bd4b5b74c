package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig() Config {
	return Config{
		QueueSize:     16,
		Debounce:      20 * time.Millisecond,
		IdleBeat:      time.Hour,
		ActiveBeat:    time.Hour,
		ThrottledBeat: time.Hour,
	}
}

func TestDebounceCoalescing(t *testing.T) {
	p := New(testConfig(), zerolog.Nop())
	p.Start()
	defer p.Close()

	p.Offer(ChangeSessions)
	p.Offer(ChangeMedia)
	p.Offer(ChangePlayback)
	p.Offer(ChangeMedia)

	select {
	case got := <-p.Passes():
		want := ChangeSessions | ChangeMedia | ChangePlayback
		if got != want {
			t.Errorf("merged tag = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pass emitted")
	}

	// All four tags must have been folded into that single pass.
	select {
	case got := <-p.Passes():
		t.Errorf("second pass emitted with tag %v, want none", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOfferNeverBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 4
	p := New(cfg, zerolog.Nop())
	// Not started: nothing drains the queue.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Offer(ChangePlayback)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer blocked on a full queue")
	}

	if p.Dropped() == 0 {
		t.Error("Dropped() = 0, want overflow drops")
	}
}

func TestHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.IdleBeat = 20 * time.Millisecond
	p := New(cfg, zerolog.Nop())
	p.Start()
	defer p.Close()

	select {
	case got := <-p.Passes():
		if !got.Has(ChangeBeat) {
			t.Errorf("heartbeat tag = %v, want ChangeBeat set", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat emitted")
	}
}

func TestSetModeReArmsHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.IdleBeat = time.Hour
	cfg.ThrottledBeat = 20 * time.Millisecond
	p := New(cfg, zerolog.Nop())
	p.Start()
	defer p.Close()

	// Idle: no beat expected yet.
	select {
	case got := <-p.Passes():
		t.Fatalf("unexpected pass %v while idle", got)
	case <-time.After(100 * time.Millisecond):
	}

	p.SetMode(ModeThrottled)

	select {
	case got := <-p.Passes():
		if !got.Has(ChangeBeat) {
			t.Errorf("tag = %v, want ChangeBeat set", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat after switching to ModeThrottled")
	}
}

func TestCloseClosesPasses(t *testing.T) {
	p := New(testConfig(), zerolog.Nop())
	p.Start()
	p.Close()

	if _, open := <-p.Passes(); open {
		t.Error("Passes() still open after Close")
	}
}

func TestChangeForcesRefresh(t *testing.T) {
	tests := []struct {
		c    Change
		want bool
	}{
		{ChangeSessions, true},
		{ChangeMedia, true},
		{ChangeMedia | ChangeBeat, true},
		{ChangePlayback, false},
		{ChangeTimeline, false},
		{ChangeBeat, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := tt.c.ForcesRefresh(); got != tt.want {
			t.Errorf("ForcesRefresh(%v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestChangeString(t *testing.T) {
	tests := []struct {
		c    Change
		want string
	}{
		{0, "none"},
		{ChangeBeat, "beat"},
		{ChangeSessions | ChangeMedia, "sessions+media"},
		{ChangePlayback | ChangeTimeline, "playback+timeline"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.c, got, tt.want)
		}
	}
}
