// Package lookup resolves locally observed tracks against YouTube so the
// engine can enrich sparse sessions with canonical titles, authors and
// artwork.
package lookup

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a search yields no usable match.
var ErrNotFound = errors.New("lookup: no match found")

// Result is a resolved remote match for a locally observed track.
type Result struct {
	VideoID    string
	Title      string
	Author     string
	ArtworkURL string
	Duration   time.Duration
}

// Finder resolves a track title and artist to remote metadata.
type Finder interface {
	Find(ctx context.Context, title, artist string) (*Result, error)
}

// WatchURL returns the canonical watch page for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
