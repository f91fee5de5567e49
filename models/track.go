package models

// Track is a point-in-time observation of what a user is playing,
// as returned by a streaming provider. It is not persisted directly;
// the listening ledger decides whether it becomes a ListeningRecord.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMs int64  `json:"durationMs"`
	ProgressMs int64  `json:"progressMs"`
}

// ListeningRecord is one row of a user's durable listening history.
type ListeningRecord struct {
	ID         int64  `json:"id"`
	UserID     string `json:"userId"`
	TrackID    string `json:"trackId"`
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	AlbumName  string `json:"albumName"`
	Timestamp  int64  `json:"timestamp"` // unix seconds
	DurationMs int64  `json:"durationMs"`
}
