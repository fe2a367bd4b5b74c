package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// searchTimeout bounds a single yt-dlp invocation.
const searchTimeout = 20 * time.Second

// YtdlpFinder shells out to yt-dlp to search YouTube for a track. The
// binary must be on PATH; every failure mode surfaces as an error so the
// caller can decide whether lookups are worth keeping enabled.
type YtdlpFinder struct {
	binary  string
	retries int
	log     zerolog.Logger
}

func NewYtdlpFinder(retries int, log zerolog.Logger) *YtdlpFinder {
	if retries < 1 {
		retries = 1
	}
	return &YtdlpFinder{
		binary:  "yt-dlp",
		retries: retries,
		log:     log.With().Str("component", "lookup").Logger(),
	}
}

type ytdlpEntry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Track      string  `json:"track"`
	Artist     string  `json:"artist"`
	Channel    string  `json:"channel"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	WebpageURL string  `json:"webpage_url"`
}

// Find searches for the best match of title and artist. Transient
// failures are retried with a short backoff; a clean no-match result is
// returned immediately as ErrNotFound.
func (f *YtdlpFinder) Find(ctx context.Context, title, artist string) (*Result, error) {
	query := buildQuery(title, artist)
	if query == "" {
		return nil, ErrNotFound
	}

	var lastErr error
	for attempt := 0; attempt < f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		res, err := f.search(ctx, query)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.log.Debug().Err(err).Int("attempt", attempt+1).Str("query", query).Msg("lookup attempt failed")
	}
	return nil, lastErr
}

func (f *YtdlpFinder) search(ctx context.Context, query string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.binary, "-J", "--no-warnings", "--no-playlist", "ytsearch1:"+query)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("running yt-dlp: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseSearch(stdout.Bytes())
}

func parseSearch(data []byte) (*Result, error) {
	var playlist struct {
		Entries []ytdlpEntry `json:"entries"`
	}
	if err := json.Unmarshal(data, &playlist); err != nil {
		return nil, fmt.Errorf("parsing yt-dlp output: %w", err)
	}
	if len(playlist.Entries) == 0 {
		return nil, ErrNotFound
	}

	e := playlist.Entries[0]
	title := lo.CoalesceOrEmpty(e.Track, e.Title)
	if e.ID == "" || title == "" {
		return nil, ErrNotFound
	}
	return &Result{
		VideoID:    e.ID,
		Title:      title,
		Author:     lo.CoalesceOrEmpty(e.Artist, e.Channel, e.Uploader),
		ArtworkURL: e.Thumbnail,
		Duration:   time.Duration(e.Duration * float64(time.Second)),
	}, nil
}

func buildQuery(title, artist string) string {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	switch {
	case title == "":
		return ""
	case artist == "":
		return title
	default:
		return artist + " - " + title
	}
}
