package db

import (
	"database/sql"

	"github.com/wren-fm/wren/models"
)

// GetCredential retrieves a user's stored tokens. Returns nil when the
// user has never authorized.
func (db *DB) GetCredential(userID string) (*models.Credential, error) {
	cred := &models.Credential{}

	err := db.QueryRow(`
	SELECT user_id, access_token, refresh_token, expires_at
	FROM credentials WHERE user_id = ?`, userID).Scan(
		&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return cred, nil
}

// UpsertCredential stores a full credential after authorization.
// expires_at never moves backwards for a user.
func (db *DB) UpsertCredential(userID, accessToken, refreshToken string, expiresAt int64) error {
	_, err := db.Exec(`
	INSERT INTO credentials (user_id, access_token, refresh_token, expires_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		expires_at = MAX(credentials.expires_at, excluded.expires_at)`,
		userID, accessToken, refreshToken, expiresAt)

	return err
}

// UpdateAccessToken stores a refreshed access token and its new expiry.
func (db *DB) UpdateAccessToken(userID, accessToken string, expiresAt int64) error {
	_, err := db.Exec(`
	UPDATE credentials
	SET access_token = ?, expires_at = MAX(expires_at, ?)
	WHERE user_id = ?`,
		accessToken, expiresAt, userID)

	return err
}

// ListUserIDs returns every user who has ever completed authorization.
func (db *DB) ListUserIDs() ([]string, error) {
	rows, err := db.Query(`SELECT user_id FROM credentials ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
