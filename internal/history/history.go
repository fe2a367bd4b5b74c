// Package history persists playback history and scrobble bookkeeping in
// a local sqlite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	dbutil "github.com/rainaku/vnotch/internal/db"
)

const (
	currentSchemaVersion = 1

	// maxPlays caps the plays table; oldest rows beyond it are pruned.
	maxPlays = 10000
)

// Store wraps the sqlite database holding plays, the Last.fm session
// and the pending-scrobble queue.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track TEXT NOT NULL,
			artist TEXT,
			album TEXT,
			source TEXT,
			video_id TEXT,
			started_at INTEGER NOT NULL,
			played_seconds INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_plays_started_at ON plays(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_plays_track ON plays(track, artist);

		CREATE TABLE IF NOT EXISTS lastfm_session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			username TEXT NOT NULL,
			session_key TEXT NOT NULL,
			linked_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_scrobbles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT,
			duration_seconds INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO schema_version (version) VALUES (?)
	`, currentSchemaVersion)
	return err
}

// Play is one listened-to track.
type Play struct {
	ID            int64
	Track         string
	Artist        string
	Album         string
	Source        string
	VideoID       string
	StartedAt     time.Time
	PlayedSeconds int
}

// RecordPlay inserts a play and prunes the table past its cap.
func (s *Store) RecordPlay(p Play) error {
	return dbutil.WithTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO plays (track, artist, album, source, video_id, started_at, played_seconds, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.Track, p.Artist, p.Album, p.Source, p.VideoID, p.StartedAt.Unix(), p.PlayedSeconds, time.Now().Unix())
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			DELETE FROM plays WHERE id IN (
				SELECT id FROM plays ORDER BY started_at DESC, id DESC LIMIT -1 OFFSET ?
			)
		`, maxPlays)
		return err
	})
}

// RecentPlays returns the newest plays, most recent first.
func (s *Store) RecentPlays(limit int) ([]Play, error) {
	rows, err := s.db.Query(`
		SELECT id, track, artist, album, source, video_id, started_at, played_seconds
		FROM plays
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var p Play
		var artist, album, source, videoID sql.NullString
		var startedAt int64
		if err := rows.Scan(&p.ID, &p.Track, &artist, &album, &source, &videoID, &startedAt, &p.PlayedSeconds); err != nil {
			return nil, err
		}
		p.Artist = dbutil.NullStringValue(artist)
		p.Album = dbutil.NullStringValue(album)
		p.Source = dbutil.NullStringValue(source)
		p.VideoID = dbutil.NullStringValue(videoID)
		p.StartedAt = time.Unix(startedAt, 0)
		plays = append(plays, p)
	}
	return plays, rows.Err()
}

// TrackCount is a play count aggregate for one track.
type TrackCount struct {
	Track  string
	Artist string
	Plays  int
}

// TopTracks returns the most played tracks.
func (s *Store) TopTracks(limit int) ([]TrackCount, error) {
	rows, err := s.db.Query(`
		SELECT track, artist, COUNT(*) AS plays
		FROM plays
		GROUP BY track, artist
		ORDER BY plays DESC, MAX(started_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TrackCount
	for rows.Next() {
		var c TrackCount
		var artist sql.NullString
		if err := rows.Scan(&c.Track, &artist, &c.Plays); err != nil {
			return nil, err
		}
		c.Artist = dbutil.NullStringValue(artist)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// LastfmSession is a stored Last.fm session.
type LastfmSession struct {
	Username   string
	SessionKey string
	LinkedAt   time.Time
}

// GetLastfmSession returns the stored session, or nil when not linked.
func (s *Store) GetLastfmSession() (*LastfmSession, error) {
	var username, sessionKey string
	var linkedAt int64

	err := s.db.QueryRow(`
		SELECT username, session_key, linked_at FROM lastfm_session WHERE id = 1
	`).Scan(&username, &sessionKey, &linkedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // nil session means not linked, not an error
	}
	if err != nil {
		return nil, err
	}
	return &LastfmSession{
		Username:   username,
		SessionKey: sessionKey,
		LinkedAt:   time.Unix(linkedAt, 0),
	}, nil
}

// SaveLastfmSession stores the session after authentication.
func (s *Store) SaveLastfmSession(username, sessionKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO lastfm_session (id, username, session_key, linked_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			session_key = excluded.session_key,
			linked_at = excluded.linked_at
	`, username, sessionKey, time.Now().Unix())
	return err
}

// DeleteLastfmSession unlinks the stored session.
func (s *Store) DeleteLastfmSession() error {
	_, err := s.db.Exec(`DELETE FROM lastfm_session WHERE id = 1`)
	return err
}

// PendingScrobble is a scrobble queued for retry after a failed submit.
type PendingScrobble struct {
	ID              int64
	Track           string
	Artist          string
	Album           string
	DurationSeconds int
	StartedAt       time.Time
	Attempts        int
	LastError       string
	CreatedAt       time.Time
}

// AddPendingScrobble queues a scrobble for later submission.
func (s *Store) AddPendingScrobble(p PendingScrobble) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_scrobbles
		(track, artist, album, duration_seconds, started_at, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?)
	`, p.Track, p.Artist, p.Album, p.DurationSeconds, p.StartedAt.Unix(), time.Now().Unix())
	return err
}

// PendingScrobbles returns queued scrobbles, oldest first.
func (s *Store) PendingScrobbles() ([]PendingScrobble, error) {
	rows, err := s.db.Query(`
		SELECT id, track, artist, album, duration_seconds, started_at, attempts, last_error, created_at
		FROM pending_scrobbles
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingScrobble
	for rows.Next() {
		var p PendingScrobble
		var album, lastError sql.NullString
		var startedAt, createdAt int64
		if err := rows.Scan(&p.ID, &p.Track, &p.Artist, &album, &p.DurationSeconds, &startedAt, &p.Attempts, &lastError, &createdAt); err != nil {
			return nil, err
		}
		p.Album = dbutil.NullStringValue(album)
		p.LastError = dbutil.NullStringValue(lastError)
		p.StartedAt = time.Unix(startedAt, 0)
		p.CreatedAt = time.Unix(createdAt, 0)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// DeletePendingScrobble removes a successfully submitted scrobble.
func (s *Store) DeletePendingScrobble(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_scrobbles WHERE id = ?`, id)
	return err
}

// MarkScrobbleAttempt increments the attempt count with the error seen.
func (s *Store) MarkScrobbleAttempt(id int64, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE pending_scrobbles
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, errMsg, id)
	return err
}

// PrunePendingScrobbles drops entries that are too old or have failed
// too many times.
func (s *Store) PrunePendingScrobbles(maxAge time.Duration, maxAttempts int) error {
	cutoff := time.Now().Add(-maxAge).Unix()
	_, err := s.db.Exec(`
		DELETE FROM pending_scrobbles WHERE created_at < ? OR attempts >= ?
	`, cutoff, maxAttempts)
	return err
}
