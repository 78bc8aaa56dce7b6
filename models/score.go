// models/score.go
package models

import (
	"time"
)

// The two game modes stats and scores are tracked per.
const (
	ModeKeys4 int16 = 1
	ModeKeys7 int16 = 2
)

// Score is one play result, keyed by the Quaver API's score id and
// foreign-keyed to the User that set it and the Map it was set on. Scores are
// immutable once stored; fetching a score we've already seen is a silent
// no-op thanks to insert-or-ignore.
type Score struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID            int64     `json:"user_id" gorm:"index;not null"`
	MapID             int64     `json:"map_id" gorm:"index;not null"`
	Time              time.Time `json:"time"`
	Mode              int16     `json:"mode" gorm:"index"`
	Mods              int64     `json:"mods"`
	ModsString        string    `json:"mods_string"`
	PerformanceRating float64   `json:"performance_rating"`
	PersonalBest      bool      `json:"personal_best"`
	IsDonatorScore    *bool     `json:"is_donator_score,omitempty"`
	TotalScore        int64     `json:"total_score"`
	Accuracy          float64   `json:"accuracy"`
	Grade             string    `json:"grade"`
	MaxCombo          int64     `json:"max_combo"`
	CountMarv         int64     `json:"count_marv"`
	CountPerf         int64     `json:"count_perf"`
	CountGreat        int64     `json:"count_great"`
	CountGood         int64     `json:"count_good"`
	CountOkay         int64     `json:"count_okay"`
	CountMiss         int64     `json:"count_miss"`
	ScrollSpeed       int64     `json:"scroll_speed"`
	Ratio             float64   `json:"ratio"`
}
