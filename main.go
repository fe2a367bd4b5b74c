package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/engine"
	"github.com/rainaku/vnotch/internal/export"
	"github.com/rainaku/vnotch/internal/history"
	"github.com/rainaku/vnotch/internal/lookup"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/notify"
	"github.com/rainaku/vnotch/internal/platcache"
	"github.com/rainaku/vnotch/internal/scrobble"
	"github.com/rainaku/vnotch/internal/source/mpris"
	"github.com/rainaku/vnotch/internal/source/xwin"
)

func main() {
	var (
		configPath = flag.String("config", "", "explicit config file path")
		debug      = flag.Bool("debug", false, "enable debug logging")
		lastfmAuth = flag.Bool("lastfm-auth", false, "link a Last.fm account and exit")
	)
	flag.Parse()

	if err := run(*configPath, *debug, *lastfmAuth); err != nil {
		fmt.Fprintf(os.Stderr, "vnotch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, debug, lastfmAuth bool) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if lastfmAuth {
		return linkLastfm(cfg)
	}

	registry, err := mpris.NewRegistry(log)
	if err != nil {
		return fmt.Errorf("open session registry: %w", err)
	}
	defer registry.Close()

	windows := xwin.NewLister(log)
	pcache := platcache.Open(afero.NewOsFs(), config.PlatformCacheDir(), platcache.DefaultCapacity, log)

	var enricher *engine.Enricher
	if lcfg := cfg.GetLookup(); *lcfg.Enabled {
		finder := lookup.NewYtdlpFinder(lcfg.Retries, log)
		artwork := lookup.NewArtworkFetcher(config.ArtworkDir(), log)
		enricher = engine.NewEnricher(finder, artwork, lcfg.CacheSize, log)
	}

	eng := engine.New(cfg, registry, windows, pcache, enricher, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	var store *history.Store
	if hcfg := cfg.GetHistory(); *hcfg.Enabled {
		store, err = history.Open(hcfg.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", hcfg.Path).Msg("history unavailable")
			store = nil
		} else {
			defer store.Close()
			recorder := history.NewRecorder(store, log)
			states := eng.Subscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				recorder.Run(ctx, states)
			}()
		}
	}

	if lf := cfg.GetLastfm(); lf.APIKey != "" && lf.APISecret != "" {
		client := scrobble.New(lf.APIKey, lf.APISecret)
		switch {
		case lf.SessionKey != "":
			client.SetSessionKey(lf.SessionKey)
		case store != nil:
			if sess, err := store.GetLastfmSession(); err == nil && sess != nil {
				client.SetSessionKey(sess.SessionKey)
			}
		}
		if client.IsAuthenticated() {
			var queue scrobble.Queue
			if store != nil {
				queue = store
			}
			scrobbler := scrobble.NewScrobbler(client, queue, lf, log)
			states := eng.Subscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				scrobbler.Run(ctx, states)
			}()
		} else {
			log.Info().Msg("last.fm keys configured but no session key, run vnotch -lastfm-auth to link")
		}
	}

	ecfg := cfg.GetExport()
	if *ecfg.Mpris {
		// The exported player shows up on the bus like any other;
		// without this the engine would arbitrate its own output.
		eng.IgnoreSession(export.BusSuffix)
		exporter := export.New(eng)
		defer exporter.Close()
	}

	if *ecfg.Notify {
		notifier, err := notify.New()
		if err != nil {
			log.Warn().Err(err).Msg("notifications unavailable")
		} else {
			announcer := notify.NewAnnouncer(notifier, log)
			states := eng.Subscribe()
			wg.Add(1)
			go func() {
				defer wg.Done()
				announcer.Run(ctx, states)
			}()
		}
	}

	// One line per track change on stdout, for status bars and pipes.
	lines := eng.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		printStates(ctx, lines)
	}()

	eng.Start()
	log.Info().Msg("vnotch running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	eng.Stop()
	registry.Close()
	wg.Wait()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func printStates(ctx context.Context, states <-chan media.PublishedState) {
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			line := stateLine(st)
			if line == last {
				continue
			}
			last = line
			fmt.Println(line)
		}
	}
}

func stateLine(st media.PublishedState) string {
	if !st.HasTrack() {
		return ""
	}
	glyph := "⏸"
	if st.Playing {
		glyph = "▶"
	}
	line := glyph + " " + st.Track
	artist := st.Artist
	if artist == "" {
		artist = st.VideoAuthor
	}
	if artist != "" {
		line += " - " + artist
	}
	if st.Source != "" {
		line += " [" + st.Source + "]"
	}
	return line
}

// linkLastfm walks the desktop auth flow in the terminal and stores the
// resulting session in the history database.
func linkLastfm(cfg *config.Config) error {
	lf := cfg.GetLastfm()
	if lf.APIKey == "" || lf.APISecret == "" {
		return errors.New("last.fm api_key and api_secret must be configured first")
	}

	client := scrobble.New(lf.APIKey, lf.APISecret)
	token, err := client.GetToken()
	if err != nil {
		return err
	}

	url := client.GetAuthURL(token)
	fmt.Printf("Authorize vnotch in your browser:\n\n  %s\n\n", url)
	if scrobble.OpenBrowser(url) == nil {
		fmt.Println("(opened in your default browser)")
	}
	fmt.Print("Press Enter once you have authorized... ")
	_, _ = fmt.Scanln()

	username, sessionKey, err := client.GetSession(token)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.GetHistory().Path)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer store.Close()
	if err := store.SaveLastfmSession(username, sessionKey); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	fmt.Printf("Linked Last.fm account %q. Scrobbling starts with the next run.\n", username)
	return nil
}
