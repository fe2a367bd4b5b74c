// Package xwin lists top-level X11 window titles through wmctrl. The
// normalizer matches these against junk-titled sessions to recover what
// is actually playing.
package xwin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const listTimeout = 2 * time.Second

// Each wmctrl -l line carries the window id, desktop number, client
// host and then the title, which may itself contain runs of spaces.
var listLine = regexp.MustCompile(`^(\S+)\s+(-?\d+)\s+(\S+)\s+(.*)$`)

// Lister shells out to wmctrl for the window list.
type Lister struct {
	binary string
	log    zerolog.Logger
}

func NewLister(log zerolog.Logger) *Lister {
	return &Lister{
		binary: "wmctrl",
		log:    log.With().Str("component", "xwin").Logger(),
	}
}

// Titles returns the visible window titles. Failures are returned as
// errors so callers can fall back to their last good listing.
func (l *Lister) Titles(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.binary, "-l")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("list windows: %w", ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("list windows: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return parseList(stdout.String()), nil
}

func parseList(out string) []string {
	var titles []string
	for _, line := range strings.Split(out, "\n") {
		m := listLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if title := strings.TrimSpace(m[4]); title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}
