package db

import (
	"database/sql"
	"time"

	"github.com/wren-fm/wren/models"
)

// AddFriend records a pending friend request from userID to friendID.
func (db *DB) AddFriend(userID, friendID string) error {
	_, err := db.Exec(`
	INSERT OR REPLACE INTO friends (user_id, friend_id, added_at, status)
	VALUES (?, ?, ?, 'pending')`,
		userID, friendID, time.Now().Unix())
	return err
}

// AcceptFriend marks the request from friendID to userID as accepted.
func (db *DB) AcceptFriend(userID, friendID string) error {
	_, err := db.Exec(`
	UPDATE friends SET status = 'accepted'
	WHERE user_id = ? AND friend_id = ?`,
		friendID, userID)
	return err
}

// DeclineFriend marks the request from friendID to userID as declined.
func (db *DB) DeclineFriend(userID, friendID string) error {
	_, err := db.Exec(`
	UPDATE friends SET status = 'declined'
	WHERE user_id = ? AND friend_id = ?`,
		friendID, userID)
	return err
}

// RemoveFriend deletes the friendship in both directions.
func (db *DB) RemoveFriend(userID, friendID string) error {
	_, err := db.Exec(`
	DELETE FROM friends
	WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`,
		userID, friendID, friendID, userID)
	return err
}

// GetFriends returns users with an accepted friendship with userID, in
// either direction.
func (db *DB) GetFriends(userID string) ([]*models.Friend, error) {
	rows, err := db.Query(`
	SELECT user_id, friend_id, added_at, status FROM friends
	WHERE (user_id = ? OR friend_id = ?) AND status = 'accepted'
	ORDER BY added_at DESC`, userID, userID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFriends(rows)
}

// GetPendingRequests returns requests awaiting userID's response.
func (db *DB) GetPendingRequests(userID string) ([]*models.Friend, error) {
	rows, err := db.Query(`
	SELECT user_id, friend_id, added_at, status FROM friends
	WHERE friend_id = ? AND status = 'pending'
	ORDER BY added_at DESC`, userID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFriends(rows)
}

func scanFriends(rows *sql.Rows) ([]*models.Friend, error) {
	var friends []*models.Friend
	for rows.Next() {
		f := &models.Friend{}
		if err := rows.Scan(&f.UserID, &f.FriendID, &f.AddedAt, &f.Status); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}
