package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Sources to ignore entirely (substring match on the session id).
	IgnoreSessions []string `koanf:"ignore_sessions"`

	Pipeline PipelineConfig `koanf:"pipeline"`
	Arbiter  ArbiterConfig  `koanf:"arbiter"`
	Titles   TitlesConfig   `koanf:"titles"`
	Throttle ThrottleConfig `koanf:"throttle"`
	Progress ProgressConfig `koanf:"progress"`
	Engine   EngineConfig   `koanf:"engine"`
	Lookup   LookupConfig   `koanf:"lookup"`
	History  HistoryConfig  `koanf:"history"`

	// Last.fm scrobbling (enabled when configured)
	Lastfm LastfmConfig `koanf:"lastfm"`

	Export ExportConfig `koanf:"export"`
}

// PipelineConfig tunes the event pipeline and heartbeat.
type PipelineConfig struct {
	QueueSize       int `koanf:"queue_size"`        // bounded event queue, oldest dropped when full (default: 16)
	DebounceMS      int `koanf:"debounce_ms"`       // coalescing window after an event burst (default: 50)
	IdleBeatMS      int `koanf:"idle_beat_ms"`      // heartbeat while nothing plays (default: 5000)
	EventBeatMS     int `koanf:"event_beat_ms"`     // heartbeat while a session is active (default: 3000)
	ThrottledBeatMS int `koanf:"throttled_beat_ms"` // heartbeat while simulating a throttled timeline (default: 1500)
}

// ArbiterConfig tunes session scoring and switch damping. The weights
// are long-lived tuned values; changing them shifts which session wins
// when several play at once.
type ArbiterConfig struct {
	TitleWeight     int `koanf:"title_weight"`      // has a title (default: 50)
	ArtistWeight    int `koanf:"artist_weight"`     // has an artist (default: 20)
	ArtWeight       int `koanf:"art_weight"`        // has artwork (default: 10)
	PlayingWeight   int `koanf:"playing_weight"`    // actively playing (default: 500)
	RecencyWeight   int `koanf:"recency_weight"`    // recent activity bonus (default: 300)
	RecencyWindowMS int `koanf:"recency_window_ms"` // how recent counts as recent (default: 30000)
	RealTitleWeight int `koanf:"real_title_weight"` // title survived junk filtering (default: 1500)

	PremiumHoldMS   int `koanf:"premium_hold_ms"`   // hysteresis when leaving a premium music app (default: 4000)
	HoldMS          int `koanf:"hold_ms"`           // hysteresis when leaving anything else (default: 1500)
	GraceMS         int `koanf:"grace_ms"`          // keep a vanished winner this long (default: 3000)
	MetadataRetryMS int `koanf:"metadata_retry_ms"` // re-read delay when a winner has no metadata yet (default: 25)
}

// TitlesConfig tunes metadata normalization.
type TitlesConfig struct {
	WindowCacheTTLMS int `koanf:"window_cache_ttl_ms"` // window title cache (default: 1500)
	RecoveryTTLMS    int `koanf:"recovery_ttl_ms"`     // shortened TTL right after throttle recovery (default: 300)
	// Manual platform overrides: session id substring -> platform name.
	Overrides map[string]string `koanf:"overrides"`
}

// ThrottleConfig tunes detection of frozen position reporting.
type ThrottleConfig struct {
	StallMS          int     `koanf:"stall_ms"`            // frozen position while playing (default: 1500)
	EndRatio         float64 `koanf:"end_ratio"`           // progress ratio treated as track end (default: 0.98)
	MetaQuietMS      int     `koanf:"meta_quiet_ms"`       // metadata silence required near track end (default: 1200)
	ExitFailMS       int     `koanf:"exit_fail_ms"`        // give up simulating after this much disagreement (default: 3500)
	NaturalExitMS    int     `koanf:"natural_exit_ms"`     // agreement window that ends simulation (default: 500)
	TrackChangePosMS int     `koanf:"track_change_pos_ms"` // fresh-track position confirming a change (default: 1500)
}

// ProgressConfig tunes the drift-corrected position predictor.
type ProgressConfig struct {
	StalenessMaxMS     int `koanf:"staleness_max_ms"`      // clamp on snapshot age extrapolation (default: 300000)
	SeekThresholdMS    int `koanf:"seek_threshold_ms"`     // jump larger than this is a seek (default: 2000)
	StabilizationMS    int `koanf:"stabilization_ms"`      // settle window after a seek (default: 500)
	SyncIntervalMS     int `koanf:"sync_interval_ms"`      // drift check cadence (default: 1000)
	WarmupSyncMS       int `koanf:"warmup_sync_ms"`        // drift check cadence during warmup (default: 600)
	WarmupWindowMS     int `koanf:"warmup_window_ms"`      // warmup length after a track change (default: 4000)
	ToleranceMS        int `koanf:"tolerance_ms"`          // drift tolerated before re-anchoring (default: 500)
	WarmupToleranceMS  int `koanf:"warmup_tolerance_ms"`   // drift tolerated during warmup (default: 5000)
	AntiBackwardsMS    int `koanf:"anti_backwards_ms"`     // ignore re-anchors this far backwards (default: 250)
	UserSeekDebounceMS int `koanf:"user_seek_debounce_ms"` // trust reported position this long after a user seek (default: 2500)
}

// EngineConfig tunes the reconciliation loop itself.
type EngineConfig struct {
	GateWaitMS       int `koanf:"gate_wait_ms"`       // max wait for a busy pass before forcing one (default: 500)
	VideoSkipSeconds int `koanf:"video_skip_seconds"` // next/previous seek distance on video sources (default: 15)
}

// LookupConfig tunes remote video metadata lookup.
type LookupConfig struct {
	Enabled   *bool `koanf:"enabled"`    // default: true
	Retries   int   `koanf:"retries"`    // attempts per lookup (default: 3)
	CacheSize int   `koanf:"cache_size"` // in-memory LRU entries (default: 256)
}

// HistoryConfig tunes local playback history recording.
type HistoryConfig struct {
	Enabled *bool  `koanf:"enabled"` // default: true
	Path    string `koanf:"path"`    // sqlite file, default under XDG data dir
}

// LastfmConfig holds Last.fm scrobbling configuration.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`

	ScrobblePercent int `koanf:"scrobble_percent"` // scrobble after this much of the track (default: 50)
	ScrobbleMaxMS   int `koanf:"scrobble_max_ms"`  // or after this long regardless (default: 240000)
	MinTrackMS      int `koanf:"min_track_ms"`     // tracks shorter than this never scrobble (default: 30000)
}

// ExportConfig controls the outward surfaces.
type ExportConfig struct {
	Mpris  *bool `koanf:"mpris"`  // publish fused state as an MPRIS player (default: true)
	Notify *bool `koanf:"notify"` // desktop notification on track change (default: false)
}

func Load() (*Config, error) {
	return loadPaths(getConfigPaths())
}

// LoadFrom reads configuration from an explicit file only, ignoring the
// default search locations. The file must exist.
func LoadFrom(path string) (*Config, error) {
	path = expandPath(path)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return loadPaths([]string{path})
}

func loadPaths(configPaths []string) (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if cfg.History.Path != "" {
		cfg.History.Path = expandPath(cfg.History.Path)
	}

	return cfg, nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/vnotch/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vnotch", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != "" && c.Lastfm.SessionKey != ""
}

// GetPipeline returns the pipeline configuration with defaults applied.
func (c *Config) GetPipeline() PipelineConfig {
	cfg := c.Pipeline
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.DebounceMS <= 0 {
		cfg.DebounceMS = 50
	}
	if cfg.IdleBeatMS <= 0 {
		cfg.IdleBeatMS = 5000
	}
	if cfg.EventBeatMS <= 0 {
		cfg.EventBeatMS = 3000
	}
	if cfg.ThrottledBeatMS <= 0 {
		cfg.ThrottledBeatMS = 1500
	}
	return cfg
}

// GetArbiter returns the arbiter configuration with defaults applied.
func (c *Config) GetArbiter() ArbiterConfig {
	cfg := c.Arbiter
	if cfg.TitleWeight <= 0 {
		cfg.TitleWeight = 50
	}
	if cfg.ArtistWeight <= 0 {
		cfg.ArtistWeight = 20
	}
	if cfg.ArtWeight <= 0 {
		cfg.ArtWeight = 10
	}
	if cfg.PlayingWeight <= 0 {
		cfg.PlayingWeight = 500
	}
	if cfg.RecencyWeight <= 0 {
		cfg.RecencyWeight = 300
	}
	if cfg.RecencyWindowMS <= 0 {
		cfg.RecencyWindowMS = 30000
	}
	if cfg.RealTitleWeight <= 0 {
		cfg.RealTitleWeight = 1500
	}
	if cfg.PremiumHoldMS <= 0 {
		cfg.PremiumHoldMS = 4000
	}
	if cfg.HoldMS <= 0 {
		cfg.HoldMS = 1500
	}
	if cfg.GraceMS <= 0 {
		cfg.GraceMS = 3000
	}
	if cfg.MetadataRetryMS <= 0 {
		cfg.MetadataRetryMS = 25
	}
	return cfg
}

// GetTitles returns the normalization configuration with defaults applied.
func (c *Config) GetTitles() TitlesConfig {
	cfg := c.Titles
	if cfg.WindowCacheTTLMS <= 0 {
		cfg.WindowCacheTTLMS = 1500
	}
	if cfg.RecoveryTTLMS <= 0 {
		cfg.RecoveryTTLMS = 300
	}
	return cfg
}

// GetThrottle returns the throttle configuration with defaults applied.
func (c *Config) GetThrottle() ThrottleConfig {
	cfg := c.Throttle
	if cfg.StallMS <= 0 {
		cfg.StallMS = 1500
	}
	if cfg.EndRatio <= 0 || cfg.EndRatio > 1 {
		cfg.EndRatio = 0.98
	}
	if cfg.MetaQuietMS <= 0 {
		cfg.MetaQuietMS = 1200
	}
	if cfg.ExitFailMS <= 0 {
		cfg.ExitFailMS = 3500
	}
	if cfg.NaturalExitMS <= 0 {
		cfg.NaturalExitMS = 500
	}
	if cfg.TrackChangePosMS <= 0 {
		cfg.TrackChangePosMS = 1500
	}
	return cfg
}

// GetProgress returns the predictor configuration with defaults applied.
func (c *Config) GetProgress() ProgressConfig {
	cfg := c.Progress
	if cfg.StalenessMaxMS <= 0 {
		cfg.StalenessMaxMS = 300000
	}
	if cfg.SeekThresholdMS <= 0 {
		cfg.SeekThresholdMS = 2000
	}
	if cfg.StabilizationMS <= 0 {
		cfg.StabilizationMS = 500
	}
	if cfg.SyncIntervalMS <= 0 {
		cfg.SyncIntervalMS = 1000
	}
	if cfg.WarmupSyncMS <= 0 {
		cfg.WarmupSyncMS = 600
	}
	if cfg.WarmupWindowMS <= 0 {
		cfg.WarmupWindowMS = 4000
	}
	if cfg.ToleranceMS <= 0 {
		cfg.ToleranceMS = 500
	}
	if cfg.WarmupToleranceMS <= 0 {
		cfg.WarmupToleranceMS = 5000
	}
	if cfg.AntiBackwardsMS <= 0 {
		cfg.AntiBackwardsMS = 250
	}
	if cfg.UserSeekDebounceMS <= 0 {
		cfg.UserSeekDebounceMS = 2500
	}
	return cfg
}

// GetEngine returns the engine configuration with defaults applied.
func (c *Config) GetEngine() EngineConfig {
	cfg := c.Engine
	if cfg.GateWaitMS <= 0 {
		cfg.GateWaitMS = 500
	}
	if cfg.VideoSkipSeconds <= 0 {
		cfg.VideoSkipSeconds = 15
	}
	return cfg
}

// GetLookup returns the lookup configuration with defaults applied.
func (c *Config) GetLookup() LookupConfig {
	cfg := c.Lookup
	if cfg.Enabled == nil {
		t := true
		cfg.Enabled = &t
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	return cfg
}

// GetHistory returns the history configuration with defaults applied.
func (c *Config) GetHistory() HistoryConfig {
	cfg := c.History
	if cfg.Enabled == nil {
		t := true
		cfg.Enabled = &t
	}
	if cfg.Path == "" {
		if p, err := xdg.DataFile(filepath.Join("vnotch", "history.db")); err == nil {
			cfg.Path = p
		} else {
			cfg.Path = filepath.Join(os.TempDir(), "vnotch-history.db")
		}
	}
	return cfg
}

// GetLastfm returns the Last.fm configuration with defaults applied.
func (c *Config) GetLastfm() LastfmConfig {
	cfg := c.Lastfm
	if cfg.ScrobblePercent <= 0 || cfg.ScrobblePercent > 100 {
		cfg.ScrobblePercent = 50
	}
	if cfg.ScrobbleMaxMS <= 0 {
		cfg.ScrobbleMaxMS = 240000
	}
	if cfg.MinTrackMS <= 0 {
		cfg.MinTrackMS = 30000
	}
	return cfg
}

// GetExport returns the export configuration with defaults applied.
func (c *Config) GetExport() ExportConfig {
	cfg := c.Export
	if cfg.Mpris == nil {
		t := true
		cfg.Mpris = &t
	}
	if cfg.Notify == nil {
		f := false
		cfg.Notify = &f
	}
	return cfg
}

// ArtworkDir returns the directory cached artwork files land in.
func ArtworkDir() string {
	if p, err := xdg.CacheFile(filepath.Join("vnotch", "artwork", ".keep")); err == nil {
		return filepath.Dir(p)
	}
	return filepath.Join(os.TempDir(), "vnotch-artwork")
}

// PlatformCacheDir returns the directory for the persisted platform
// classification cache.
func PlatformCacheDir() string {
	if p, err := xdg.CacheFile(filepath.Join("vnotch", "platforms", ".keep")); err == nil {
		return filepath.Dir(p)
	}
	return filepath.Join(os.TempDir(), "vnotch-platforms")
}

// LyricsCacheDir returns the directory cached .lrc files land in.
func LyricsCacheDir() string {
	if p, err := xdg.CacheFile(filepath.Join("vnotch", "lyrics", ".keep")); err == nil {
		return filepath.Dir(p)
	}
	return filepath.Join(os.TempDir(), "vnotch-lyrics")
}
