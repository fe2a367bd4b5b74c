// Package normalize turns raw session metadata into a labeled,
// de-ambiguated platform identity and filters out noise titles.
//
// Browser sessions all look alike at the session layer ("firefox",
// "chromium"); the actual platform (youtube, netflix, ...) is inferred
// from overrides, a persisted title cache, the session's own text
// fields and finally the visible window titles, in that order. Any
// confirmed classification is written back so the next pass is
// near-instant.
package normalize

import (
	"context"
	"strings"
	"time"

	levenshtein "github.com/ka-weihe/fast-levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/platcache"
	"github.com/rainaku/vnotch/internal/platform"
	"github.com/rainaku/vnotch/internal/source"
)

// placeholders are titles that never describe a track.
var placeholders = []string{
	"advertisement",
	"advertisements",
	"sponsored",
	"audio playing",
	"playing media",
	"media playback",
	"new tab",
	"untitled",
	"unknown",
	"home",
	"-",
}

// chromeNames are application window names that leak into the title
// field when nothing is really playing.
var chromeNames = []string{
	"mozilla firefox",
	"google chrome",
	"chromium",
	"microsoft edge",
	"brave",
	"opera",
	"vivaldi",
	"zen browser",
	"librewolf",
}

// JunkTitle reports whether a title is unusable: empty, a placeholder,
// or just the reporting application's own name (allowing one typo).
func JunkTitle(title, sessionID string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return true
	}
	for _, p := range placeholders {
		if t == p {
			return true
		}
	}
	for _, name := range chromeNames {
		if nearEqual(t, name) {
			return true
		}
	}
	for _, p := range platform.All() {
		if nearEqual(t, p.Name) {
			return true
		}
	}
	if base := sessionBase(sessionID); base != "" && nearEqual(t, base) {
		return true
	}
	return false
}

// nearEqual allows a single edit so "mozilla firefox " style variants
// are still recognized as app names.
func nearEqual(title, name string) bool {
	if title == name {
		return true
	}
	if len(name) < 5 {
		return false
	}
	return levenshtein.Distance(title, name) <= 1
}

// sessionBase extracts the owning application name from a session id:
// "org.mpris.MediaPlayer2.vlc.instance7" -> "vlc".
func sessionBase(sessionID string) string {
	s := strings.ToLower(sessionID)
	s = strings.TrimPrefix(s, "org.mpris.mediaplayer2.")
	if i := strings.Index(s, ".instance"); i >= 0 {
		s = s[:i]
	}
	return s
}

// Normalizer carries the per-run inference state. It is driven from the
// engine loop only and is not safe for concurrent use.
type Normalizer struct {
	cfg     config.TitlesConfig
	windows source.WindowLister
	cache   *platcache.Cache
	now     func() time.Time
	log     zerolog.Logger

	// Short-lived per-session overrides learned this run.
	overrides map[string]string

	winTitles  []string
	winAt      time.Time
	recovering bool
}

func New(cfg config.TitlesConfig, windows source.WindowLister, cache *platcache.Cache, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		cfg:       cfg,
		windows:   windows,
		cache:     cache,
		now:       time.Now,
		log:       log,
		overrides: make(map[string]string),
	}
}

// SetRecovering shortens the window title cache TTL while throttle
// recovery needs fresh reads.
func (n *Normalizer) SetRecovering(on bool) {
	n.recovering = on
}

// ForgetSession drops the per-session override, e.g. when the session
// disappears.
func (n *Normalizer) ForgetSession(sessionID string) {
	delete(n.overrides, sessionID)
}

// Normalize classifies the snapshot. It returns the possibly-relabeled
// snapshot and platform, and false when the title is junk and there is
// no usable track to report.
func (n *Normalizer) Normalize(ctx context.Context, snap media.Snapshot, plat platform.Platform) (media.Snapshot, platform.Platform, bool) {
	snap.Track = strings.TrimSpace(snap.Track)
	snap.Artist = strings.TrimSpace(snap.Artist)
	snap.Album = strings.TrimSpace(snap.Album)

	if JunkTitle(snap.Track, snap.SessionID) {
		return snap, plat, false
	}

	if plat.Kind == platform.KindBrowser || plat.IsZero() {
		if refined, ok := n.infer(ctx, snap); ok {
			n.confirm(snap, refined)
			plat = refined
		}
	}

	if !plat.IsZero() {
		snap.Source = plat.Name
	}
	return snap, plat, true
}

// ConfidentPlatform resolves a platform using only the cheap signals
// (manual config, run override, persisted cache, own text fields); it
// never touches window titles. The throttle detector uses it to decide
// whether a stalled source is already confidently classified.
func (n *Normalizer) ConfidentPlatform(snap media.Snapshot) (platform.Platform, bool) {
	if p, ok := n.manualOverride(snap.SessionID); ok {
		return p, true
	}
	if name, ok := n.overrides[snap.SessionID]; ok {
		if p, ok := platform.ByName(name); ok {
			return p, true
		}
	}
	if n.cache != nil {
		if name, ok := n.cache.Lookup(cacheKey(snap.Track)); ok {
			if p, ok := platform.ByName(name); ok {
				return p, true
			}
		}
	}
	if p, ok := platform.DetectInText(snap.Track + " " + snap.Artist + " " + snap.Album); ok {
		return p, true
	}
	return platform.Platform{}, false
}

// infer runs the full inference chain for an ambiguous browser source.
func (n *Normalizer) infer(ctx context.Context, snap media.Snapshot) (platform.Platform, bool) {
	if p, ok := n.ConfidentPlatform(snap); ok {
		return p, true
	}

	// Last resort: scan window titles, but only ones that also carry
	// the track title so another tab cannot misattribute the session.
	for _, title := range n.WindowTitles(ctx) {
		if !titleMatchesTrack(title, snap.Track) {
			continue
		}
		if p, ok := platform.DetectInText(title); ok {
			return p, true
		}
	}
	return platform.Platform{}, false
}

func (n *Normalizer) manualOverride(sessionID string) (platform.Platform, bool) {
	id := strings.ToLower(sessionID)
	for sub, name := range n.cfg.Overrides {
		if sub != "" && strings.Contains(id, strings.ToLower(sub)) {
			if p, ok := platform.ByName(name); ok {
				return p, true
			}
		}
	}
	return platform.Platform{}, false
}

// confirm writes a classification back into the run override and the
// persisted cache so the same session and the same track reclassify
// instantly.
func (n *Normalizer) confirm(snap media.Snapshot, p platform.Platform) {
	if p.Kind == platform.KindBrowser {
		return
	}
	n.overrides[snap.SessionID] = p.Name
	if n.cache != nil {
		n.cache.Store(cacheKey(snap.Track), p.Name)
	}
	n.log.Debug().
		Str("session", snap.SessionID).
		Str("platform", p.Name).
		Msg("classified browser session")
}

// WindowTitles lists the visible window titles through a short-lived
// cache; enumeration is comparatively expensive.
func (n *Normalizer) WindowTitles(ctx context.Context) []string {
	if n.windows == nil {
		return nil
	}
	ttl := time.Duration(n.cfg.WindowCacheTTLMS) * time.Millisecond
	if n.recovering {
		ttl = time.Duration(n.cfg.RecoveryTTLMS) * time.Millisecond
	}
	if !n.winAt.IsZero() && n.now().Sub(n.winAt) < ttl {
		return n.winTitles
	}

	titles, err := n.windows.Titles(ctx)
	if err != nil {
		n.log.Debug().Err(err).Msg("window enumeration failed")
		return n.winTitles
	}
	n.winTitles = titles
	n.winAt = n.now()
	return titles
}

// FindPlatformTrack scans window titles for one belonging to the given
// platform and extracts the track name from it. Throttle recovery uses
// it to tell "same track, still stalled" from "track changed while
// frozen".
func (n *Normalizer) FindPlatformTrack(ctx context.Context, p platform.Platform) (string, bool) {
	for _, title := range n.WindowTitles(ctx) {
		found, ok := platform.DetectInText(title)
		if !ok || found.Name != p.Name {
			continue
		}
		if track, ok := ExtractTrack(title, p); ok {
			return track, true
		}
	}
	return "", false
}

// FindVideoTrack is FindPlatformTrack without a fixed platform: it
// returns the first window title belonging to any video platform. Used
// when a stalled source has not been narrowed down yet.
func (n *Normalizer) FindVideoTrack(ctx context.Context) (string, platform.Platform, bool) {
	for _, title := range n.WindowTitles(ctx) {
		p, ok := platform.DetectInText(title)
		if !ok || p.Kind != platform.KindVideo {
			continue
		}
		if track, ok := ExtractTrack(title, p); ok {
			return track, p, true
		}
	}
	return "", platform.Platform{}, false
}

// titleMatchesTrack reports whether a window title plausibly shows the
// given track, by containment first and ordered fuzzy match as a
// fallback for titles mangled by separators.
func titleMatchesTrack(winTitle, track string) bool {
	if track == "" {
		return false
	}
	w := strings.ToLower(winTitle)
	tr := strings.ToLower(track)
	if strings.Contains(w, tr) {
		return true
	}
	return fuzzy.MatchNormalizedFold(track, winTitle)
}

// ExtractTrack pulls the track name out of a window title like
// "Artist - Song - YouTube — Mozilla Firefox" by cutting at the
// platform marker and trimming separators.
func ExtractTrack(winTitle string, p platform.Platform) (string, bool) {
	lower := strings.ToLower(winTitle)
	cut := -1
	for _, h := range p.Hints {
		if i := strings.Index(lower, h); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return "", false
	}
	track := strings.TrimRight(strings.TrimSpace(winTitle[:cut]), "-–—|·: \t")
	track = strings.TrimSpace(track)
	if track == "" {
		return "", false
	}
	return track, true
}

func cacheKey(track string) string {
	return strings.TrimSpace(track)
}
