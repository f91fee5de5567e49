package db

import (
	"database/sql"
	"time"

	"github.com/wren-fm/wren/models"
)

// RecordListening appends a play to the user's listening history unless
// it is judged to be the same continuous play as the most recent record.
// Returns true when a new record was written.
//
// The dedup rule: if the newest record for this user is the same track
// and less wall-clock time has passed than the track's duration, the
// earlier play could still be in progress, so the observation is
// skipped. A consequence is that an identical track replayed
// back-to-back within its own duration counts as one play.
//
// The read-decide-insert-aggregate sequence runs in one transaction so
// concurrent writers for the same user cannot lose an aggregate update.
func (db *DB) RecordListening(userID string, track *models.Track) (bool, error) {
	now := time.Now().Unix()

	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var lastTrackID string
	var lastTimestamp int64
	err = tx.QueryRow(`
	SELECT track_id, timestamp FROM listening_history
	WHERE user_id = ?
	ORDER BY timestamp DESC, id DESC LIMIT 1`, userID).Scan(&lastTrackID, &lastTimestamp)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	if err == nil && lastTrackID == track.ID {
		durationSec := (track.DurationMs + 999) / 1000
		if now-lastTimestamp < durationSec {
			// same continuous play
			return false, nil
		}
	}

	_, err = tx.Exec(`
	INSERT INTO listening_history
		(user_id, track_id, track_name, artist_name, album_name, timestamp, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, track.ID, track.Name, track.Artist, track.Album, now, track.DurationMs)
	if err != nil {
		return false, err
	}

	var playCount int64
	err = tx.QueryRow(`
	SELECT COUNT(*) FROM listening_history
	WHERE user_id = ? AND track_id = ?`, userID, track.ID).Scan(&playCount)
	if err != nil {
		return false, err
	}

	// Aggregates move only on the first play of a track ever logged for
	// this user: total_tracks_played counts distinct tracks discovered.
	if playCount == 1 {
		if err := updateUserStats(tx, userID, track, now); err != nil {
			return false, err
		}
	}

	return true, tx.Commit()
}

func updateUserStats(tx *sql.Tx, userID string, track *models.Track, now int64) error {
	_, err := tx.Exec(`
	INSERT OR REPLACE INTO user_stats (
		user_id,
		total_tracks_played,
		total_listening_time_ms,
		last_checked,
		favorite_artist,
		favorite_track
	)
	VALUES (?,
		COALESCE((SELECT total_tracks_played + 1 FROM user_stats WHERE user_id = ?), 1),
		COALESCE((SELECT total_listening_time_ms + ? FROM user_stats WHERE user_id = ?), ?),
		?,
		(SELECT artist FROM (
			SELECT artist_name AS artist, COUNT(*) AS plays
			FROM listening_history
			WHERE user_id = ?
			GROUP BY artist_name
			ORDER BY plays DESC LIMIT 1
		)),
		(SELECT track FROM (
			SELECT track_name AS track, COUNT(*) AS plays
			FROM listening_history
			WHERE user_id = ?
			GROUP BY track_name
			ORDER BY plays DESC LIMIT 1
		))
	)`,
		userID,
		userID,
		track.DurationMs,
		userID,
		track.DurationMs,
		now,
		userID,
		userID)

	return err
}

// GetLastRecord returns the most recent listening record for a user, or
// nil when the history is empty.
func (db *DB) GetLastRecord(userID string) (*models.ListeningRecord, error) {
	rec := &models.ListeningRecord{}

	err := db.QueryRow(`
	SELECT id, user_id, track_id, track_name, artist_name, album_name, timestamp, duration_ms
	FROM listening_history
	WHERE user_id = ?
	ORDER BY timestamp DESC, id DESC LIMIT 1`, userID).Scan(
		&rec.ID, &rec.UserID, &rec.TrackID, &rec.TrackName,
		&rec.ArtistName, &rec.AlbumName, &rec.Timestamp, &rec.DurationMs)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetRecentRecords returns a user's listening history, newest first.
func (db *DB) GetRecentRecords(userID string, limit int) ([]*models.ListeningRecord, error) {
	rows, err := db.Query(`
	SELECT id, user_id, track_id, track_name, artist_name, album_name, timestamp, duration_ms
	FROM listening_history
	WHERE user_id = ?
	ORDER BY timestamp DESC, id DESC
	LIMIT ?`, userID, limit)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ListeningRecord
	for rows.Next() {
		rec := &models.ListeningRecord{}
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.TrackID, &rec.TrackName,
			&rec.ArtistName, &rec.AlbumName, &rec.Timestamp, &rec.DurationMs)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
