package stats

import (
	"math"
	"sort"

	"github.com/wren-fm/wren/models"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarityOrder = map[Rarity]int{
	RarityLegendary: 0,
	RarityEpic:      1,
	RarityRare:      2,
	RarityCommon:    3,
}

// Achievement is a derived milestone with progress toward its target.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Rarity      Rarity `json:"rarity"`
	Current     int64  `json:"current"`
	Target      int64  `json:"target"`
	Completed   bool   `json:"completed"`
}

type milestone struct {
	id     string
	name   string
	target int64
	rarity Rarity
}

var timeMilestones = []milestone{
	{"time_24h", "Day Tripper", 24, RarityCommon},
	{"time_week", "Weekly Wonder", 168, RarityRare},
	{"time_month", "Monthly Maven", 720, RarityEpic},
	{"time_year", "Yearly Sage", 8760, RarityLegendary},
}

var trackMilestones = []milestone{
	{"tracks_100", "Novice Listener", 100, RarityCommon},
	{"tracks_1000", "Music Enthusiast", 1000, RarityRare},
	{"tracks_5000", "Sound Sage", 5000, RarityEpic},
	{"tracks_10000", "Music God", 10000, RarityLegendary},
}

var artistMilestones = []milestone{
	{"artists_10", "Genre Taster", 10, RarityCommon},
	{"artists_50", "Genre Explorer", 50, RarityRare},
	{"artists_100", "Music Wanderer", 100, RarityEpic},
	{"artists_200", "Sound Pioneer", 200, RarityLegendary},
}

var streakMilestones = []milestone{
	{"streak_3", "Rhythm Keeper", 3, RarityCommon},
	{"streak_7", "Music Regular", 7, RarityRare},
	{"streak_30", "Melody Master", 30, RarityEpic},
	{"streak_100", "Harmony Legend", 100, RarityLegendary},
}

// Level is a user's derived listening level.
type Level struct {
	Level       int    `json:"level"`
	CurrentXP   int64  `json:"currentXp"`
	NextLevelXP int64  `json:"nextLevelXp"`
	Title       string `json:"title"`
}

var levelTitles = []string{
	"Newbie Listener",
	"Music Explorer",
	"Rhythm Enthusiast",
	"Melody Master",
	"Sound Sage",
	"Harmony Expert",
	"Beat Legend",
	"Music Virtuoso",
	"Sound God",
	"Ultimate Maestro",
}

// Achievements derives the user's completed and in-progress milestones
// from their aggregates and history, sorted rarest first.
func (s *Service) Achievements(userID string) ([]Achievement, error) {
	userStats, err := s.db.GetUserStats(userID)
	if err != nil {
		return nil, err
	}
	if userStats == nil {
		return nil, nil
	}

	artists, err := s.db.CountDistinctArtists(userID)
	if err != nil {
		return nil, err
	}
	streak, err := s.db.GetListeningStreak(userID)
	if err != nil {
		return nil, err
	}

	hours := userStats.TotalListeningTimeMs / 3600000

	var achievements []Achievement
	achievements = appendMilestones(achievements, timeMilestones, "dedication", hours)
	achievements = appendMilestones(achievements, trackMilestones, "dedication", userStats.TotalTracksPlayed)
	achievements = appendMilestones(achievements, artistMilestones, "explorer", artists)
	achievements = appendMilestones(achievements, streakMilestones, "dedication", streak)

	sort.SliceStable(achievements, func(i, j int) bool {
		return rarityOrder[achievements[i].Rarity] < rarityOrder[achievements[j].Rarity]
	})

	return achievements, nil
}

func appendMilestones(out []Achievement, milestones []milestone, category string, current int64) []Achievement {
	for _, m := range milestones {
		out = append(out, Achievement{
			ID:        m.id,
			Name:      m.name,
			Category:  category,
			Rarity:    m.rarity,
			Current:   current,
			Target:    m.target,
			Completed: current >= m.target,
		})
	}
	return out
}

// UserLevel computes the user's level from tracks discovered and hours
// listened: 10 XP per track, 50 per hour, quadratic level curve.
func UserLevel(userStats *models.UserStats) Level {
	baseXP := userStats.TotalTracksPlayed*10 + (userStats.TotalListeningTimeMs/3600000)*50
	level := int(math.Sqrt(float64(baseXP) / 100))

	currentXP := baseXP - int64(level*level*100)
	nextLevelXP := int64((level+1)*(level+1)*100 - level*level*100)

	titleIdx := level
	if titleIdx >= len(levelTitles) {
		titleIdx = len(levelTitles) - 1
	}

	return Level{
		Level:       level,
		CurrentXP:   currentXP,
		NextLevelXP: nextLevelXP,
		Title:       levelTitles[titleIdx],
	}
}
