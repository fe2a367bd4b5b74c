// Package export republishes the fused now playing state as an MPRIS
// player on the session bus, so bars and widgets read one stable
// source instead of chasing individual players.
package export

import (
	"context"
	"time"

	"github.com/quarckster/go-mpris-server/pkg/server"

	"github.com/rainaku/vnotch/internal/media"
)

// BusSuffix is the MPRIS name the exported player appears under. The
// engine must ignore this session or it would consume its own output.
const BusSuffix = "vnotch"

const controlTimeout = 5 * time.Second

// Player is the slice of the engine the exported adapter drives.
type Player interface {
	State() media.PublishedState
	PlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SeekTo(ctx context.Context, pos time.Duration) error
	SeekBy(ctx context.Context, delta time.Duration) error
}

// Exporter owns the MPRIS server lifecycle.
type Exporter struct {
	server *server.Server
}

// New starts serving the player in the background.
func New(p Player) *Exporter {
	e := &Exporter{
		server: server.NewServer(BusSuffix, &rootAdapter{}, &playerAdapter{player: p}),
	}
	go func() {
		_ = e.server.Listen()
	}()
	return e
}

// Close releases the bus name.
func (e *Exporter) Close() error {
	return e.server.Stop()
}
