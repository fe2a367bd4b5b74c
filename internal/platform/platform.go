// Package platform holds the table of recognized media platforms: the
// mapping from session identifiers and title fragments to a canonical
// platform label, plus the per-platform arbitration weight.
//
// The weights are empirically tuned values carried over as-is; they are
// exposed through config rather than re-derived.
package platform

import "strings"

// Kind classifies how a platform behaves, which drives throttle
// detection and transport-control mapping.
//
//   - KindMusic: dedicated app with a real track list; next/previous are
//     meaningful and its clock never throttles.
//   - KindVideo: web platform backed by a browser tab; position reporting
//     can freeze when backgrounded and there is no discrete track list.
//   - KindBrowser: ambiguous browser chrome, awaiting reclassification.
type Kind int

const (
	KindUnknown Kind = iota
	KindMusic
	KindVideo
	KindBrowser
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMusic:
		return "music"
	case KindVideo:
		return "video"
	case KindBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// Platform describes one recognized media platform.
type Platform struct {
	// Name is the canonical lowercase label published in Snapshot.Source.
	Name string
	Kind Kind
	// Premium marks dedicated music apps that get the long switch-away
	// hysteresis hold.
	Premium bool
	// Weight is the arbitration score contribution.
	Weight int
	// Hints are lowercase fragments that identify the platform in session
	// ids, titles, artist fields or window titles.
	Hints []string
}

// IsZero reports whether p is the zero Platform.
func (p Platform) IsZero() bool {
	return p.Name == ""
}

// Throttleable reports whether the platform's position reporting can
// stall (browser-tab-backed engines).
func (p Platform) Throttleable() bool {
	return p.Kind == KindVideo || p.Kind == KindBrowser
}

// table lists known platforms in matching priority order: more specific
// hints ("youtube music") come before the platforms they would shadow
// ("youtube").
var table = []Platform{
	{Name: "spotify", Kind: KindMusic, Premium: true, Weight: 400, Hints: []string{"spotify"}},
	{Name: "tidal", Kind: KindMusic, Premium: true, Weight: 400, Hints: []string{"tidal"}},
	{Name: "deezer", Kind: KindMusic, Premium: true, Weight: 400, Hints: []string{"deezer"}},
	{Name: "apple music", Kind: KindMusic, Premium: true, Weight: 400, Hints: []string{"apple music", "cider"}},

	{Name: "youtube music", Kind: KindVideo, Weight: 330, Hints: []string{"youtube music", "music.youtube"}},
	{Name: "youtube", Kind: KindVideo, Weight: 350, Hints: []string{"youtube", "youtu.be"}},
	{Name: "netflix", Kind: KindVideo, Weight: 300, Hints: []string{"netflix"}},
	{Name: "twitch", Kind: KindVideo, Weight: 280, Hints: []string{"twitch"}},
	{Name: "soundcloud", Kind: KindVideo, Weight: 260, Hints: []string{"soundcloud"}},
	{Name: "vimeo", Kind: KindVideo, Weight: 240, Hints: []string{"vimeo"}},

	{Name: "vlc", Kind: KindMusic, Weight: 250, Hints: []string{"vlc"}},
	{Name: "mpv", Kind: KindMusic, Weight: 250, Hints: []string{"mpv"}},
	{Name: "elisa", Kind: KindMusic, Weight: 250, Hints: []string{"elisa"}},
	{Name: "strawberry", Kind: KindMusic, Weight: 250, Hints: []string{"strawberry"}},
	{Name: "rhythmbox", Kind: KindMusic, Weight: 250, Hints: []string{"rhythmbox"}},

	{Name: "firefox", Kind: KindBrowser, Weight: 100, Hints: []string{"firefox", "librewolf", "zen browser", "zen_"}},
	{Name: "chrome", Kind: KindBrowser, Weight: 100, Hints: []string{"chrome", "chromium"}},
	{Name: "edge", Kind: KindBrowser, Weight: 100, Hints: []string{"edge"}},
	{Name: "brave", Kind: KindBrowser, Weight: 100, Hints: []string{"brave"}},
	{Name: "opera", Kind: KindBrowser, Weight: 100, Hints: []string{"opera", "vivaldi"}},
}

// All returns a copy of the platform table in priority order.
func All() []Platform {
	out := make([]Platform, len(table))
	copy(out, table)
	return out
}

// ByName looks a platform up by its canonical label.
func ByName(name string) (Platform, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range table {
		if p.Name == name {
			return p, true
		}
	}
	return Platform{}, false
}

// BySessionID matches a session identifier (e.g. an MPRIS bus name)
// against the platform hints. Browser entries match too: a Firefox
// session is classified as the "firefox" browser platform until the
// normalizer refines it.
func BySessionID(sessionID string) (Platform, bool) {
	id := strings.ToLower(sessionID)
	for _, p := range table {
		for _, h := range p.Hints {
			if strings.Contains(id, h) {
				return p, true
			}
		}
	}
	return Platform{}, false
}

// DetectInText scans free-form text (titles, artist fields, window
// titles) for a non-browser platform hint. Browser hints are excluded:
// "Firefox" in a window title says nothing about what is playing.
func DetectInText(text string) (Platform, bool) {
	t := strings.ToLower(text)
	if t == "" {
		return Platform{}, false
	}
	for _, p := range table {
		if p.Kind == KindBrowser {
			continue
		}
		for _, h := range p.Hints {
			if strings.Contains(t, h) {
				return p, true
			}
		}
	}
	return Platform{}, false
}
