// nowq prints what vnotch currently knows is playing, or digs through
// its play history. It reads the daemon's exported MPRIS player, so the
// daemon must be running for the live view.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/rainaku/vnotch/internal/config"
	"github.com/rainaku/vnotch/internal/history"
	"github.com/rainaku/vnotch/internal/lyrics"
	"github.com/rainaku/vnotch/internal/media"
	"github.com/rainaku/vnotch/internal/source/mpris"
)

const (
	queryTimeout  = 5 * time.Second
	lyricsTimeout = 15 * time.Second
)

func main() {
	var (
		jsonOut   = flag.Bool("json", false, "print the state as JSON")
		session   = flag.String("session", "vnotch", "MPRIS player to query")
		recent    = flag.Int("recent", 0, "show the N most recent plays instead")
		top       = flag.Int("top", 0, "show the N most played tracks instead")
		withLyric = flag.Bool("lyrics", false, "show lyrics for the current track")
	)
	flag.Parse()

	var err error
	switch {
	case *recent > 0:
		err = showRecent(*recent)
	case *top > 0:
		err = showTop(*top)
	case *withLyric:
		err = showLyrics(*session)
	default:
		err = showNow(*session, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nowq: %v\n", err)
		os.Exit(1)
	}
}

func showNow(id string, jsonOut bool) error {
	snap, err := currentSnapshot(id)
	if err != nil {
		return err
	}
	return printSnapshot(snap, jsonOut)
}

func currentSnapshot(id string) (media.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	registry, err := mpris.NewRegistry(zerolog.Nop())
	if err != nil {
		return media.Snapshot{}, err
	}
	defer registry.Close()

	sessions, err := registry.Sessions(ctx)
	if err != nil {
		return media.Snapshot{}, err
	}
	for _, s := range sessions {
		if s.ID() == id {
			return s.Snapshot(ctx)
		}
	}
	return media.Snapshot{}, fmt.Errorf("no %q player on the bus, is vnotch running?", id)
}

func showLyrics(id string) error {
	snap, err := currentSnapshot(id)
	if err != nil {
		return err
	}
	if !snap.HasTrack() {
		fmt.Println("nothing playing")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lyricsTimeout)
	defer cancel()

	src := lyrics.NewSource(config.LyricsCacheDir())
	result := src.Fetch(ctx, snap.Artist, snap.Track, snap.Duration)
	if result.Err != nil {
		return result.Err
	}
	if result.Lyrics == nil {
		fmt.Printf("no lyrics found for %s - %s\n", snap.Track, snap.Artist)
		return nil
	}

	current := result.Lyrics.LineAt(snap.Position)
	for i, line := range result.Lyrics.Lines {
		marker := "  "
		if i == current {
			marker = "> "
		}
		fmt.Println(marker + line.Text)
	}
	return nil
}

func printSnapshot(snap media.Snapshot, jsonOut bool) error {
	if jsonOut {
		out := struct {
			Track    string  `json:"track,omitempty"`
			Artist   string  `json:"artist,omitempty"`
			Album    string  `json:"album,omitempty"`
			Playing  bool    `json:"playing"`
			Position float64 `json:"position_seconds"`
			Duration float64 `json:"duration_seconds,omitempty"`
			ArtURL   string  `json:"art_url,omitempty"`
		}{
			Track:    snap.Track,
			Artist:   snap.Artist,
			Album:    snap.Album,
			Playing:  snap.Playing,
			Position: snap.Position.Seconds(),
			Duration: snap.Duration.Seconds(),
			ArtURL:   snap.ArtURL,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if !snap.HasTrack() {
		fmt.Println("nothing playing")
		return nil
	}

	status := "▶"
	if !snap.Playing {
		status = "⏸"
	}
	line := status + " " + snap.Track
	if snap.Artist != "" {
		line += " - " + snap.Artist
	}
	fmt.Println(line)

	if snap.Duration > 0 {
		fmt.Printf("  %s / %s\n", formatDuration(snap.Position), formatDuration(snap.Duration))
	} else if snap.Position > 0 {
		fmt.Printf("  %s\n", formatDuration(snap.Position))
	}
	return nil
}

func showRecent(n int) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	plays, err := store.RecentPlays(n)
	if err != nil {
		return err
	}
	if len(plays) == 0 {
		fmt.Println("no plays recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, p := range plays {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Track, p.Artist, p.Source, humanize.Time(p.StartedAt))
	}
	return w.Flush()
}

func showTop(n int) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tracks, err := store.TopTracks(n)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		fmt.Println("no plays recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, t := range tracks {
		fmt.Fprintf(w, "%d.\t%s\t%s\t%d plays\n", i+1, t.Track, t.Artist, t.Plays)
	}
	return w.Flush()
}

func openStore() (*history.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return history.Open(cfg.GetHistory().Path)
}

func formatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
