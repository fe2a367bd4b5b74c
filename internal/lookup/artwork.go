package lookup

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	artworkUserAgent = "vnotch (https://github.com/rainaku/vnotch)"
	artworkMaxBytes  = 5 << 20
)

// ArtworkFetcher downloads cover images into a local cache directory so
// consumers get stable file paths instead of remote URLs.
type ArtworkFetcher struct {
	dir        string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewArtworkFetcher(dir string, log zerolog.Logger) *ArtworkFetcher {
	return &ArtworkFetcher{
		dir: dir,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.With().Str("component", "artwork").Logger(),
	}
}

// Fetch returns a local path for artURL, downloading on first use.
// file:// URLs resolve to their local path without copying.
func (f *ArtworkFetcher) Fetch(ctx context.Context, artURL string) (string, error) {
	if artURL == "" {
		return "", fmt.Errorf("empty artwork url")
	}
	if strings.HasPrefix(artURL, "file://") {
		return localPath(artURL)
	}

	sum := sha1.Sum([]byte(artURL))
	dest := filepath.Join(f.dir, hex.EncodeToString(sum[:])+".jpg")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", artworkUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching artwork: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artwork dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, "art-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, artworkMaxBytes)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing artwork: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing artwork file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("storing artwork: %w", err)
	}

	f.log.Debug().Str("url", artURL).Str("path", dest).Msg("artwork cached")
	return dest, nil
}

func localPath(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("parsing artwork url: %w", err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("artwork url has no path: %s", fileURL)
	}
	return u.Path, nil
}
