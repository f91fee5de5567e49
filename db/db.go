package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a wrapper around sql.DB
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	// Credentials, one row per authorized user
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS credentials (
		user_id TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}

	// Listening history, append-only. The uniqueness constraint stops
	// exact duplicates within the same second; near-duplicates across
	// polls are handled by the dedup check in RecordListening.
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS listening_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		track_name TEXT NOT NULL,
		artist_name TEXT NOT NULL,
		album_name TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		UNIQUE(user_id, track_id, timestamp)
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_history_user_time
	ON listening_history(user_id, timestamp DESC)`)
	if err != nil {
		return err
	}

	// Per-user aggregates, maintained on first-time plays
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		total_tracks_played INTEGER DEFAULT 0,
		total_listening_time_ms INTEGER DEFAULT 0,
		last_checked INTEGER DEFAULT 0,
		favorite_artist TEXT,
		favorite_track TEXT
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS friends (
		user_id TEXT NOT NULL,
		friend_id TEXT NOT NULL,
		added_at INTEGER NOT NULL,
		status TEXT DEFAULT 'pending',
		PRIMARY KEY (user_id, friend_id)
	)`)

	return err
}
