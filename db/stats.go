package db

import (
	"database/sql"

	"github.com/wren-fm/wren/models"
)

// GetUserStats returns a user's aggregate counters, or nil when the user
// has no recorded history yet.
func (db *DB) GetUserStats(userID string) (*models.UserStats, error) {
	stats := &models.UserStats{}
	var favArtist, favTrack sql.NullString

	err := db.QueryRow(`
	SELECT user_id, total_tracks_played, total_listening_time_ms, last_checked,
		favorite_artist, favorite_track
	FROM user_stats WHERE user_id = ?`, userID).Scan(
		&stats.UserID, &stats.TotalTracksPlayed, &stats.TotalListeningTimeMs,
		&stats.LastChecked, &favArtist, &favTrack)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stats.FavoriteArtist = favArtist.String
	stats.FavoriteTrack = favTrack.String
	return stats, nil
}

// GetTopArtists returns a user's most played artists with play counts,
// total time, and last-played timestamps.
func (db *DB) GetTopArtists(userID string, limit int) ([]*models.ArtistStats, error) {
	rows, err := db.Query(`
	SELECT artist_name, COUNT(*) AS plays, SUM(duration_ms) AS total_time, MAX(timestamp) AS last_played
	FROM listening_history
	WHERE user_id = ?
	GROUP BY artist_name
	ORDER BY plays DESC
	LIMIT ?`, userID, limit)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artists []*models.ArtistStats
	for rows.Next() {
		a := &models.ArtistStats{}
		if err := rows.Scan(&a.ArtistName, &a.PlayCount, &a.TotalTime, &a.LastPlayed); err != nil {
			return nil, err
		}
		artists = append(artists, a)
	}

	return artists, rows.Err()
}

// GetTopTracks returns a user's most played tracks.
func (db *DB) GetTopTracks(userID string, limit int) ([]*models.TrackStats, error) {
	rows, err := db.Query(`
	SELECT track_name, artist_name, COUNT(*) AS plays
	FROM listening_history
	WHERE user_id = ?
	GROUP BY track_id
	ORDER BY plays DESC
	LIMIT ?`, userID, limit)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*models.TrackStats
	for rows.Next() {
		t := &models.TrackStats{}
		if err := rows.Scan(&t.TrackName, &t.ArtistName, &t.PlayCount); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}

// GetListeningTrends returns daily play counts and artist variety since
// the given unix timestamp, newest day first.
func (db *DB) GetListeningTrends(userID string, since int64) ([]*models.TrendPoint, error) {
	rows, err := db.Query(`
	SELECT date(datetime(timestamp, 'unixepoch')) AS day,
		COUNT(*) AS plays,
		COUNT(DISTINCT artist_name) AS unique_artists
	FROM listening_history
	WHERE user_id = ? AND timestamp > ?
	GROUP BY day
	ORDER BY day DESC`, userID, since)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*models.TrendPoint
	for rows.Next() {
		p := &models.TrendPoint{}
		if err := rows.Scan(&p.Day, &p.Plays, &p.UniqueArtists); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// CountDistinctArtists returns how many different artists a user has
// ever listened to.
func (db *DB) CountDistinctArtists(userID string) (int64, error) {
	var count int64
	err := db.QueryRow(`
	SELECT COUNT(DISTINCT artist_name) FROM listening_history
	WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// GetListeningStreak counts consecutive listening days in a user's
// history.
func (db *DB) GetListeningStreak(userID string) (int64, error) {
	var streak int64
	err := db.QueryRow(`
	WITH RECURSIVE dates AS (
		SELECT date(datetime(timestamp, 'unixepoch')) AS day
		FROM listening_history
		WHERE user_id = ?
		GROUP BY day
	), streaks AS (
		SELECT day,
			julianday(day) - julianday(LAG(day) OVER (ORDER BY day)) AS diff
		FROM dates
	)
	SELECT COUNT(*) FROM streaks WHERE diff = 1`, userID).Scan(&streak)
	return streak, err
}

// GetCommonArtists returns artists two users share, with each user's
// distinct track count for the artist.
func (db *DB) GetCommonArtists(user1, user2 string, limit int) ([]*models.CommonArtist, error) {
	rows, err := db.Query(`
	SELECT h1.artist_name,
		COUNT(DISTINCT h1.track_id) AS user1_tracks,
		COUNT(DISTINCT h2.track_id) AS user2_tracks
	FROM listening_history h1
	INNER JOIN listening_history h2 ON h1.artist_name = h2.artist_name
	WHERE h1.user_id = ? AND h2.user_id = ?
	GROUP BY h1.artist_name
	ORDER BY user1_tracks + user2_tracks DESC
	LIMIT ?`, user1, user2, limit)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var common []*models.CommonArtist
	for rows.Next() {
		c := &models.CommonArtist{}
		if err := rows.Scan(&c.ArtistName, &c.User1Tracks, &c.User2Tracks); err != nil {
			return nil, err
		}
		common = append(common, c)
	}

	return common, rows.Err()
}
