// Package platcache persists learned platform classifications. Browser
// session ids churn between runs, so entries are keyed by track
// signature: once "Artist - Song" in a Firefox tab has been identified
// as youtube, the next run classifies it immediately instead of waiting
// for window title heuristics.
package platcache

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/metafates/gache"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// DefaultCapacity bounds the persisted entry count; oldest entries are
// pruned past it.
const DefaultCapacity = 512

// Entry is one learned classification.
type Entry struct {
	Platform string    `json:"platform"`
	SeenAt   time.Time `json:"seen_at"`
}

// aferoFs adapts an afero filesystem to the gache.FileSystem interface,
// so tests can run the cache on an in-memory backend.
type aferoFs struct {
	fs afero.Fs
}

func (a *aferoFs) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return a.fs.OpenFile(name, flag, perm)
}

func (a *aferoFs) MkdirAll(path string, perm os.FileMode) error {
	return a.fs.MkdirAll(path, perm)
}

// Cache is a disk-backed signature -> platform map.
type Cache struct {
	mu       sync.Mutex
	cacher   *gache.Cache[map[string]Entry]
	capacity int
	now      func() time.Time
	log      zerolog.Logger
}

// Open loads (or creates) the cache file under dir.
func Open(fs afero.Fs, dir string, capacity int, log zerolog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		cacher: gache.New[map[string]Entry](&gache.Options{
			Path:       filepath.Join(dir, "platforms.json"),
			FileSystem: &aferoFs{fs: fs},
		}),
		capacity: capacity,
		now:      time.Now,
		log:      log,
	}
}

func (c *Cache) load() map[string]Entry {
	cached, expired, err := c.cacher.Get()
	if err != nil {
		c.log.Warn().Err(err).Msg("platform cache read failed")
		return make(map[string]Entry)
	}
	if expired || cached == nil {
		return make(map[string]Entry)
	}
	return cached
}

// Lookup returns the learned platform for a track signature.
func (c *Cache) Lookup(signature string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.load()[signature]
	if !ok {
		return "", false
	}
	return e.Platform, true
}

// Store records a classification and persists. Entries past capacity
// are pruned oldest first.
func (c *Cache) Store(signature, platform string) {
	if signature == "" || platform == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.load()
	entries[signature] = Entry{Platform: platform, SeenAt: c.now()}

	if len(entries) > c.capacity {
		prune(entries, len(entries)-c.capacity)
	}

	if err := c.cacher.Set(entries); err != nil {
		c.log.Warn().Err(err).Msg("platform cache write failed")
	}
}

// Len reports the persisted entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.load())
}

func prune(entries map[string]Entry, n int) {
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(entries))
	for k, e := range entries {
		all = append(all, aged{key: k, at: e.SeenAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(entries, all[i].key)
	}
}
