package platcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func newTestCache(capacity int) *Cache {
	return Open(afero.NewMemMapFs(), "/cache", capacity, zerolog.Nop())
}

func TestStoreLookup(t *testing.T) {
	c := newTestCache(8)

	c.Store("bad apple|alstroemeria|firefox", "youtube")

	got, ok := c.Lookup("bad apple|alstroemeria|firefox")
	if !ok {
		t.Fatal("Lookup() = miss, want hit")
	}
	if got != "youtube" {
		t.Errorf("Lookup() = %q, want %q", got, "youtube")
	}

	if _, ok := c.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) = hit, want miss")
	}
}

func TestStoreIgnoresEmpty(t *testing.T) {
	c := newTestCache(8)

	c.Store("", "youtube")
	c.Store("sig", "")

	if n := c.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestPruneOldestFirst(t *testing.T) {
	c := newTestCache(3)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 5; i++ {
		c.Store(fmt.Sprintf("sig-%d", i), "youtube")
	}

	if n := c.Len(); n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}

	// The two oldest should be gone, the three newest kept.
	for _, gone := range []string{"sig-0", "sig-1"} {
		if _, ok := c.Lookup(gone); ok {
			t.Errorf("Lookup(%s) = hit, want pruned", gone)
		}
	}
	for _, kept := range []string{"sig-2", "sig-3", "sig-4"} {
		if _, ok := c.Lookup(kept); !ok {
			t.Errorf("Lookup(%s) = miss, want hit", kept)
		}
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	fs := afero.NewMemMapFs()

	c := Open(fs, "/cache", 8, zerolog.Nop())
	c.Store("sig", "netflix")

	reopened := Open(fs, "/cache", 8, zerolog.Nop())
	got, ok := reopened.Lookup("sig")
	if !ok || got != "netflix" {
		t.Errorf("Lookup() after reopen = %q, %v, want %q, true", got, ok, "netflix")
	}
}
