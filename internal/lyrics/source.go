package lyrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rainaku/vnotch/internal/lrclib"
)

// Source provides lyrics from a local cache or the lrclib API.
type Source struct {
	client   *lrclib.Client
	cacheDir string
}

// NewSource creates a lyrics source caching under cacheDir. An empty
// cacheDir disables caching.
func NewSource(cacheDir string) *Source {
	return &Source{
		client:   lrclib.New(),
		cacheDir: cacheDir,
	}
}

// FetchResult is the outcome of a lyrics fetch. Origin is "cache",
// "lrclib" or "not_found".
type FetchResult struct {
	Lyrics *Lyrics
	Origin string
	Err    error
}

// Fetch retrieves lyrics for a track, cache first, then the lrclib API.
// API hits with synced lyrics are written back to the cache.
func (s *Source) Fetch(ctx context.Context, artist, title string, duration time.Duration) FetchResult {
	if artist == "" || title == "" {
		return FetchResult{Origin: "not_found"}
	}

	cachePath := s.cachePath(artist, title)
	if lyrics, err := s.loadFromFile(cachePath); err == nil && lyrics != nil {
		return FetchResult{Lyrics: lyrics, Origin: "cache"}
	}

	result, err := s.client.Get(ctx, artist, title, duration)
	if err != nil {
		if errors.Is(err, lrclib.ErrNotFound) {
			return FetchResult{Origin: "not_found"}
		}
		return FetchResult{Origin: "not_found", Err: err}
	}

	lyrics := fromResult(result)
	if lyrics == nil || len(lyrics.Lines) == 0 {
		return FetchResult{Origin: "not_found"}
	}

	if result.HasSyncedLyrics() {
		_ = s.saveToCache(artist, title, result.SyncedLyrics)
	}

	return FetchResult{Lyrics: lyrics, Origin: "lrclib"}
}

// fromResult converts an API result, preferring synced lyrics. Plain
// lyrics become unsynced lines all at time zero.
func fromResult(result *lrclib.LyricsResult) *Lyrics {
	var lyrics *Lyrics
	switch {
	case result.HasSyncedLyrics():
		var err error
		lyrics, err = ParseLRC(strings.NewReader(result.SyncedLyrics))
		if err != nil {
			return nil
		}
	case result.HasPlainLyrics():
		lyrics = &Lyrics{}
		for _, line := range strings.Split(result.PlainLyrics, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lyrics.Lines = append(lyrics.Lines, Line{Text: line})
			}
		}
	default:
		return nil
	}

	if lyrics.Artist == "" {
		lyrics.Artist = result.ArtistName
	}
	if lyrics.Title == "" {
		lyrics.Title = result.TrackName
	}
	if lyrics.Album == "" {
		lyrics.Album = result.AlbumName
	}
	return lyrics
}

func (s *Source) loadFromFile(path string) (*Lyrics, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseLRC(f)
}

func (s *Source) cachePath(artist, title string) string {
	if s.cacheDir == "" {
		return ""
	}
	return filepath.Join(s.cacheDir, sanitizeFilename(artist), sanitizeFilename(title)+".lrc")
}

func (s *Source) saveToCache(artist, title, content string) error {
	path := s.cachePath(artist, title)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

func sanitizeFilename(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if len(name) > 100 {
		name = name[:100]
	}
	if name == "" {
		name = "_"
	}
	return name
}
