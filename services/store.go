// services/store.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ameobea/quavertrack/models"
)

// SyncResult is what one successful synchronization produced: the two stats
// rows appended for this pass, every map touched by the fetched scores, and
// the scores that were not already in storage.
type SyncResult struct {
	Stats4K   *models.StatsUpdate  `json:"stats_4k"`
	Stats7K   *models.StatsUpdate  `json:"stats_7k"`
	Maps      map[int64]models.Map `json:"maps"`
	NewScores []models.Score       `json:"new_scores"`
}

// splitScore normalizes one fetched score into its embedded map and a score
// row referencing that map by id.
func splitScore(userID int64, apiScore APIScore) (models.Map, models.Score) {
	m := models.Map{
		ID:              apiScore.Map.ID,
		MapsetID:        apiScore.Map.MapsetID,
		MD5:             apiScore.Map.MD5,
		Artist:          apiScore.Map.Artist,
		Title:           apiScore.Map.Title,
		DifficultyName:  apiScore.Map.DifficultyName,
		CreatorID:       apiScore.Map.CreatorID,
		CreatorUsername: apiScore.Map.CreatorUsername,
		RankedStatus:    apiScore.Map.RankedStatus,
		Slug:            slug.Make(fmt.Sprintf("%s %s %s", apiScore.Map.Artist, apiScore.Map.Title, apiScore.Map.DifficultyName)),
	}

	s := models.Score{
		ID:                apiScore.ID,
		UserID:            userID,
		MapID:             apiScore.Map.ID,
		Time:              apiScore.Time,
		Mode:              apiScore.Mode,
		Mods:              apiScore.Mods,
		ModsString:        apiScore.ModsString,
		PerformanceRating: apiScore.PerformanceRating,
		PersonalBest:      apiScore.PersonalBest,
		IsDonatorScore:    apiScore.IsDonatorScore,
		TotalScore:        apiScore.TotalScore,
		Accuracy:          apiScore.Accuracy,
		Grade:             apiScore.Grade,
		MaxCombo:          apiScore.MaxCombo,
		CountMarv:         apiScore.CountMarv,
		CountPerf:         apiScore.CountPerf,
		CountGreat:        apiScore.CountGreat,
		CountGood:         apiScore.CountGood,
		CountOkay:         apiScore.CountOkay,
		CountMiss:         apiScore.CountMiss,
		ScrollSpeed:       apiScore.ScrollSpeed,
		Ratio:             apiScore.Ratio,
	}

	return m, s
}

// modeStatsToUpdate flattens one per-mode aggregate block into an append-only
// stats row.
func modeStatsToUpdate(userID int64, mode int16, recordedAt time.Time, stats APIModeStats) models.StatsUpdate {
	return models.StatsUpdate{
		UserID:                   userID,
		RecordedAt:               recordedAt,
		Mode:                     mode,
		TotalScore:               stats.Stats.TotalScore,
		RankedScore:              stats.Stats.RankedScore,
		OverallAccuracy:          stats.Stats.OverallAccuracy,
		OverallPerformanceRating: stats.Stats.OverallPerformanceRating,
		PlayCount:                stats.Stats.PlayCount,
		FailCount:                stats.Stats.FailCount,
		MaxCombo:                 stats.Stats.MaxCombo,
		ReplaysWatched:           stats.Stats.ReplaysWatched,
		TotalMarv:                stats.Stats.TotalMarv,
		TotalPerf:                stats.Stats.TotalPerf,
		TotalGreat:               stats.Stats.TotalGreat,
		TotalGood:                stats.Stats.TotalGood,
		TotalOkay:                stats.Stats.TotalOkay,
		TotalMiss:                stats.Stats.TotalMiss,
		TotalPauses:              stats.Stats.TotalPauses,
		MultiplayerWins:          stats.Stats.MultiplayerWins,
		MultiplayerLosses:        stats.Stats.MultiplayerLosses,
		MultiplayerTies:          stats.Stats.MultiplayerTies,
		CountryRank:              stats.CountryRank,
		GlobalRank:               stats.GlobalRank,
		MultiplayerWinRank:       stats.MultiplayerWinRank,
	}
}

// storeBundle writes one fetched bundle in a single transaction: maps first
// (scores foreign-key them), then scores, then exactly two stats rows, then
// the user's last_synced_at bump. The score working set may contain the same
// id twice (a score can be both "recent" and "best"); insert-or-ignore
// absorbs that, we don't dedupe in memory.
func (s *SyncService) storeBundle(userID int64, bundle *FetchedBundle) (*SyncResult, error) {
	allAPIScores := make([]APIScore, 0,
		len(bundle.Recent4K)+len(bundle.Best4K)+len(bundle.Recent7K)+len(bundle.Best7K))
	allAPIScores = append(allAPIScores, bundle.Recent4K...)
	allAPIScores = append(allAPIScores, bundle.Best4K...)
	allAPIScores = append(allAPIScores, bundle.Recent7K...)
	allAPIScores = append(allAPIScores, bundle.Best7K...)

	maps := make([]models.Map, 0, len(allAPIScores))
	scores := make([]models.Score, 0, len(allAPIScores))
	for _, apiScore := range allAPIScores {
		m, sc := splitScore(userID, apiScore)
		maps = append(maps, m)
		scores = append(scores, sc)
	}

	now := time.Now().UTC()
	result := &SyncResult{
		Maps:      make(map[int64]models.Map, len(maps)),
		NewScores: make([]models.Score, 0, len(scores)),
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Figure out which score ids are genuinely new before the idempotent
		// insert swallows the duplicates.
		scoreIDs := make([]int64, 0, len(scores))
		for _, sc := range scores {
			scoreIDs = append(scoreIDs, sc.ID)
		}
		var existingIDs []int64
		if len(scoreIDs) > 0 {
			if err := tx.Model(&models.Score{}).Where("id IN ?", scoreIDs).
				Pluck("id", &existingIDs).Error; err != nil {
				return fmt.Errorf("failed to query existing scores: %w", err)
			}
		}
		existing := make(map[int64]bool, len(existingIDs))
		for _, id := range existingIDs {
			existing[id] = true
		}

		// Maps must land before the scores that reference them
		if len(maps) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&maps).Error; err != nil {
				return fmt.Errorf("failed to store maps: %w", err)
			}
		}
		if len(scores) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&scores).Error; err != nil {
				return fmt.Errorf("failed to store scores: %w", err)
			}
		}

		// Exactly two appended stats rows per synchronization, one per mode
		updates := []models.StatsUpdate{
			modeStatsToUpdate(userID, models.ModeKeys4, now, bundle.Stats.Keys4),
			modeStatsToUpdate(userID, models.ModeKeys7, now, bundle.Stats.Keys7),
		}
		if err := tx.Create(&updates).Error; err != nil {
			return fmt.Errorf("failed to store stats updates: %w", err)
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			Update("last_synced_at", now).Error; err != nil {
			return fmt.Errorf("failed to bump last_synced_at: %w", err)
		}

		result.Stats4K = &updates[0]
		result.Stats7K = &updates[1]
		for _, m := range maps {
			result.Maps[m.ID] = m
		}
		seen := make(map[int64]bool, len(scores))
		for _, sc := range scores {
			if !existing[sc.ID] && !seen[sc.ID] {
				result.NewScores = append(result.NewScores, sc)
				seen[sc.ID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetScoresForUser returns a user's stored scores for one mode, best rated
// first, along with every map they reference.
func (s *SyncService) GetScoresForUser(userID int64, mode int16) ([]models.Map, []models.Score, error) {
	var scores []models.Score
	if err := s.DB.Where("user_id = ? AND mode = ?", userID, mode).
		Order("performance_rating DESC").Find(&scores).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to query scores: %w", err)
	}

	mapIDs := make([]int64, 0, len(scores))
	for _, sc := range scores {
		mapIDs = append(mapIDs, sc.MapID)
	}

	var maps []models.Map
	if len(mapIDs) > 0 {
		if err := s.DB.Where("id IN ?", mapIDs).Find(&maps).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to query maps: %w", err)
		}
	}

	return maps, scores, nil
}

// GetStatsHistoryForUser returns a user's stats snapshots for one mode in
// ascending recorded order.
func (s *SyncService) GetStatsHistoryForUser(userID int64, mode int16) ([]models.StatsUpdate, error) {
	var updates []models.StatsUpdate
	if err := s.DB.Where("user_id = ? AND mode = ?", userID, mode).
		Order("recorded_at ASC").Find(&updates).Error; err != nil {
		return nil, fmt.Errorf("failed to query stats history: %w", err)
	}
	return updates, nil
}

// getLastUpdateTimestamp returns the user's most recent stats row timestamp
// across both modes, or nil when the user has never been synchronized. The
// cooldown gate is based on the latest update, not the first.
func (s *SyncService) getLastUpdateTimestamp(userID int64) (*time.Time, error) {
	var update models.StatsUpdate
	err := s.DB.Where("user_id = ?", userID).
		Order("recorded_at DESC").First(&update).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last update timestamp: %w", err)
	}
	return &update.RecordedAt, nil
}

// getLeastRecentlySyncedUserID picks the user most overdue for a background
// synchronization: never-synced users first, then the stalest.
func (s *SyncService) getLeastRecentlySyncedUserID() (int64, error) {
	var user models.User
	err := s.DB.Order("last_synced_at ASC NULLS FIRST").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("no users to synchronize")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to pick least recently synced user: %w", err)
	}
	return user.ID, nil
}

// touchLastSyncedAt advances last_synced_at without storing anything else.
// Used when the remote says a known user no longer exists, so the batch
// scheduler doesn't pick the same dead user every cycle.
func (s *SyncService) touchLastSyncedAt(userID int64) error {
	return s.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("last_synced_at", time.Now().UTC()).Error
}
