package models

// Credential holds a user's OAuth tokens for a streaming provider.
// ExpiresAt is unix seconds; it never moves backwards across updates.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// UserStats is the per-user aggregate maintained by the ledger.
// TotalTracksPlayed counts distinct tracks discovered, not listen events.
type UserStats struct {
	UserID               string `json:"userId"`
	TotalTracksPlayed    int64  `json:"totalTracksPlayed"`
	TotalListeningTimeMs int64  `json:"totalListeningTimeMs"`
	LastChecked          int64  `json:"lastChecked"`
	FavoriteArtist       string `json:"favoriteArtist"`
	FavoriteTrack        string `json:"favoriteTrack"`
}

// ArtistStats is a read-side aggregation row for one artist.
type ArtistStats struct {
	ArtistName string `json:"artistName"`
	PlayCount  int64  `json:"playCount"`
	TotalTime  int64  `json:"totalTimeMs"`
	LastPlayed int64  `json:"lastPlayed"`
}

// TrackStats is a read-side aggregation row for one track.
type TrackStats struct {
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	PlayCount  int64  `json:"playCount"`
}

// TrendPoint is one day of listening activity.
type TrendPoint struct {
	Day           string `json:"day"`
	Plays         int64  `json:"plays"`
	UniqueArtists int64  `json:"uniqueArtists"`
}

// Friend is one edge of the friends graph.
type Friend struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
	AddedAt  int64  `json:"addedAt"`
	Status   string `json:"status"` // pending, accepted, declined
}

// CommonArtist is one shared artist in a two-user comparison.
type CommonArtist struct {
	ArtistName  string `json:"artistName"`
	User1Tracks int64  `json:"user1Tracks"`
	User2Tracks int64  `json:"user2Tracks"`
}
