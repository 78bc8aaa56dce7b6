// models/stats_update.go
package models

import (
	"time"
)

// StatsUpdate is one timestamped snapshot of a user's aggregate stats for a
// single mode. The table is append-only: every synchronization inserts
// exactly two rows (one per mode) and nothing ever updates or deletes them.
// History is queried in ascending recorded_at order.
type StatsUpdate struct {
	ID                       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID                   int64     `json:"user_id" gorm:"index;not null"`
	RecordedAt               time.Time `json:"recorded_at" gorm:"index;autoCreateTime"`
	Mode                     int16     `json:"mode"`
	TotalScore               int64     `json:"total_score"`
	RankedScore              int64     `json:"ranked_score"`
	OverallAccuracy          float64   `json:"overall_accuracy"`
	OverallPerformanceRating float64   `json:"overall_performance_rating"`
	PlayCount                int64     `json:"play_count"`
	FailCount                int64     `json:"fail_count"`
	MaxCombo                 int64     `json:"max_combo"`
	ReplaysWatched           int64     `json:"replays_watched"`
	TotalMarv                int64     `json:"total_marv"`
	TotalPerf                int64     `json:"total_perf"`
	TotalGreat               int64     `json:"total_great"`
	TotalGood                int64     `json:"total_good"`
	TotalOkay                int64     `json:"total_okay"`
	TotalMiss                int64     `json:"total_miss"`
	TotalPauses              int64     `json:"total_pauses"`
	MultiplayerWins          int64     `json:"multiplayer_wins"`
	MultiplayerLosses        int64     `json:"multiplayer_losses"`
	MultiplayerTies          int64     `json:"multiplayer_ties"`
	CountryRank              int64     `json:"country_rank"`
	GlobalRank               int64     `json:"global_rank"`
	MultiplayerWinRank       int64     `json:"multiplayer_win_rank"`
}
