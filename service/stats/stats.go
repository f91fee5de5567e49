package stats

import (
	"log"
	"os"
	"time"

	"github.com/wren-fm/wren/db"
	"github.com/wren-fm/wren/models"
)

// Service is the read-only analytics layer over the listening ledger.
// It never writes; aggregates are maintained by the ledger itself.
type Service struct {
	db     *db.DB
	logger *log.Logger
}

func NewService(database *db.DB) *Service {
	return &Service{
		db:     database,
		logger: log.New(os.Stdout, "stats: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// UserStats returns the per-user aggregate counters.
func (s *Service) UserStats(userID string) (*models.UserStats, error) {
	return s.db.GetUserStats(userID)
}

// TopArtists returns the user's most played artists.
func (s *Service) TopArtists(userID string, limit int) ([]*models.ArtistStats, error) {
	return s.db.GetTopArtists(userID, limit)
}

// TopTracks returns the user's most played tracks.
func (s *Service) TopTracks(userID string, limit int) ([]*models.TrackStats, error) {
	return s.db.GetTopTracks(userID, limit)
}

// Trends returns daily listening activity for the past 30 days.
func (s *Service) Trends(userID string) ([]*models.TrendPoint, error) {
	since := time.Now().AddDate(0, 0, -30).Unix()
	return s.db.GetListeningTrends(userID, since)
}

// Comparison is a side-by-side view of two users' listening stats.
type Comparison struct {
	User1  *models.UserStats      `json:"user1"`
	User2  *models.UserStats      `json:"user2"`
	Common []*models.CommonArtist `json:"commonArtists"`
}

// Compare builds a listening comparison between two users.
func (s *Service) Compare(user1, user2 string) (*Comparison, error) {
	stats1, err := s.db.GetUserStats(user1)
	if err != nil {
		return nil, err
	}
	stats2, err := s.db.GetUserStats(user2)
	if err != nil {
		return nil, err
	}
	common, err := s.db.GetCommonArtists(user1, user2, 10)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		User1:  stats1,
		User2:  stats2,
		Common: common,
	}, nil
}
