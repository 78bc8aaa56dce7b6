// models/user.go
package models

import (
	"time"
)

// User is a local mirror of a Quaver player we track. The primary key is the
// id assigned by the Quaver API, not generated locally. Rows are created the
// first time an identifier resolves to a player and are never deleted.
type User struct {
	ID             int64      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Username       string     `json:"username" gorm:"uniqueIndex;not null"` // stored lower-cased for lookup
	SteamID        *string    `json:"steam_id,omitempty"`
	TimeRegistered *time.Time `json:"time_registered,omitempty"`
	Country        string     `json:"country"`
	AvatarURL      string     `json:"avatar_url"`

	// Public URL of the avatar copy mirrored to R2, if mirroring is enabled.
	// The upstream avatar URL can go stale; this one doesn't.
	AvatarMirrorURL *string `json:"avatar_mirror_url,omitempty"`

	// Bumped at the end of every synchronization (and on remote 404 in the
	// batch path, so dead users stop winning the least-recently-synced pick).
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}
