package engine

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/lookup"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/platform"
)

// Enrichment is the best-effort extra metadata attached to a track:
// the matched video and a locally cached artwork path.
type Enrichment struct {
	VideoID     string
	Author      string
	ArtworkPath string
}

// Enricher resolves enrichment off the reconciliation loop. One lookup
// runs at a time; starting one for a new track cancels the previous so
// stale results never land.
type Enricher struct {
	finder  lookup.Finder
	artwork *lookup.ArtworkFetcher
	cache   *lru.Cache[string, Enrichment]
	log     zerolog.Logger

	mu     sync.Mutex
	sig    string
	cancel context.CancelFunc
}

// NewEnricher builds an enricher. finder may be nil to skip video
// lookups, artwork may be nil to skip downloads.
func NewEnricher(finder lookup.Finder, artwork *lookup.ArtworkFetcher, cacheSize int, log zerolog.Logger) *Enricher {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, _ := lru.New[string, Enrichment](cacheSize)
	return &Enricher{
		finder:  finder,
		artwork: artwork,
		cache:   cache,
		log:     log.With().Str("component", "enrich").Logger(),
	}
}

// Cached returns a previously resolved enrichment for a signature.
func (en *Enricher) Cached(sig string) (Enrichment, bool) {
	if en == nil {
		return Enrichment{}, false
	}
	return en.cache.Get(sig)
}

// Kick starts enrichment for the published track unless it is already
// cached or in flight. apply runs on the lookup goroutine when results
// land; the caller guards against stale signatures.
func (en *Enricher) Kick(ctx context.Context, st media.PublishedState, kind platform.Kind, apply func(sig string, enr Enrichment)) {
	if en == nil || !st.HasTrack() {
		return
	}
	if kind != platform.KindVideo && st.ArtURL == "" {
		return
	}
	sig := st.Signature()
	if _, ok := en.cache.Get(sig); ok {
		return
	}

	en.mu.Lock()
	if en.sig == sig {
		en.mu.Unlock()
		return
	}
	if en.cancel != nil {
		en.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	en.sig = sig
	en.cancel = cancel
	en.mu.Unlock()

	go en.resolve(cctx, sig, st, kind, apply)
}

func (en *Enricher) resolve(ctx context.Context, sig string, st media.PublishedState, kind platform.Kind, apply func(string, Enrichment)) {
	var enr Enrichment
	artURL := st.ArtURL

	if kind == platform.KindVideo && en.finder != nil {
		res, err := en.finder.Find(ctx, st.Track, st.Artist)
		switch {
		case err == nil:
			enr.VideoID = res.VideoID
			enr.Author = res.Author
			if artURL == "" {
				artURL = res.ArtworkURL
			}
		case errors.Is(err, lookup.ErrNotFound):
		case ctx.Err() != nil:
			return
		default:
			en.log.Debug().Err(err).Str("track", st.Track).Msg("video lookup failed")
		}
	}

	if artURL != "" && en.artwork != nil {
		path, err := en.artwork.Fetch(ctx, artURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			en.log.Debug().Err(err).Str("url", artURL).Msg("artwork fetch failed")
		} else {
			enr.ArtworkPath = path
		}
	}

	if enr == (Enrichment{}) {
		return
	}
	en.cache.Add(sig, enr)
	if ctx.Err() != nil {
		return
	}
	apply(sig, enr)
}
