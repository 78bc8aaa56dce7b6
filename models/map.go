// models/map.go
package models

// Map is one played chart, keyed by the Quaver API's map id and
// content-addressed by its MD5. Maps are immutable once stored: re-seeing the
// same id is an insert-or-ignore no-op, never an update.
type Map struct {
	ID              int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	MapsetID        int64  `json:"mapset_id"`
	MD5             string `json:"md5"`
	Artist          string `json:"artist"`
	Title           string `json:"title"`
	DifficultyName  string `json:"difficulty_name"`
	CreatorID       int64  `json:"creator_id"`
	CreatorUsername string `json:"creator_username"`
	RankedStatus    int16  `json:"ranked_status"`

	// URL slug derived from artist/title/difficulty at insert time; used by
	// the frontend for share links.
	Slug string `json:"slug"`
}
