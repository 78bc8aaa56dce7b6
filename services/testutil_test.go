// services/testutil_test.go
package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Ameobea/quavertrack/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Map{},
		&models.Score{},
		&models.StatsUpdate{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return db
}

var notFoundBody = map[string]any{"status": 404, "error": "User not found"}

func okScores(scores ...APIScore) map[string]any {
	return map[string]any{"status": 200, "scores": scores}
}

func okUsers(users ...APIUser) map[string]any {
	return map[string]any{"status": 200, "users": users}
}

// fakeQuaverAPI serves canned bodies for the five Quaver API endpoints and
// counts how often each was hit. Endpoints with no configured body report the
// in-band 404 envelope, same as the real API does for unknown users.
type fakeQuaverAPI struct {
	mu sync.Mutex

	statsResp  any
	scoreResps map[string]any // keyed by "<kind>-<mode>", e.g. "best-2"
	usersResp  any
	searchResp any

	statsCalls  int
	scoreCalls  int
	usersCalls  int
	searchCalls int
}

func (f *fakeQuaverAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body any
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/users/full/"):
			f.statsCalls++
			body = f.statsResp
		case strings.HasPrefix(r.URL.Path, "/v1/users/scores/"):
			f.scoreCalls++
			kind := strings.TrimPrefix(r.URL.Path, "/v1/users/scores/")
			body = f.scoreResps[kind+"-"+r.URL.Query().Get("mode")]
		case strings.HasPrefix(r.URL.Path, "/v1/users/search/"):
			f.searchCalls++
			body = f.searchResp
		case r.URL.Path == "/v1/users":
			f.usersCalls++
			body = f.usersResp
		}

		if body == nil {
			body = notFoundBody
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (f *fakeQuaverAPI) newClient(t *testing.T) *QuaverClient {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return &QuaverClient{BaseURL: srv.URL, Client: srv.Client()}
}

func (f *fakeQuaverAPI) calls() (stats, scores, users, search int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls, f.scoreCalls, f.usersCalls, f.searchCalls
}

func makeAPIScore(id, mapID int64, mode int16, rating float64) APIScore {
	return APIScore{
		ID:                id,
		Time:              time.Now().UTC().Truncate(time.Second),
		Mode:              mode,
		ModsString:        "None",
		PerformanceRating: rating,
		PersonalBest:      true,
		TotalScore:        987654,
		Accuracy:          99.2,
		Grade:             "S",
		MaxCombo:          731,
		CountMarv:         500,
		CountPerf:         200,
		CountGreat:        20,
		CountGood:         8,
		CountOkay:         2,
		CountMiss:         1,
		ScrollSpeed:       280,
		Ratio:             2.5,
		Map: APIMap{
			ID:              mapID,
			MapsetID:        mapID + 1000,
			MD5:             fmt.Sprintf("md5-%d", mapID),
			Artist:          "Camellia",
			Title:           "Backbeat Maniac",
			DifficultyName:  "Rewind VIP",
			CreatorID:       42,
			CreatorUsername: "evening",
			RankedStatus:    2,
		},
	}
}

func makeAPIStats(userID int64, playCount4, playCount7 int64) *APIStatsUser {
	return &APIStatsUser{
		Info: APIUser{ID: userID, Username: "tester", Country: "US"},
		Keys4: APIModeStats{
			GlobalRank:         7961,
			CountryRank:        1889,
			MultiplayerWinRank: 4833,
			Stats: APIModeStatsRaw{
				UserID:                   userID,
				TotalScore:               133582330,
				RankedScore:              67926257,
				OverallAccuracy:          89.57,
				OverallPerformanceRating: 50.27,
				PlayCount:                playCount4,
				FailCount:                80,
				MaxCombo:                 503,
			},
		},
		Keys7: APIModeStats{
			GlobalRank:         38698,
			CountryRank:        10104,
			MultiplayerWinRank: 37095,
			Stats: APIModeStatsRaw{
				UserID:     userID,
				TotalScore: 2416,
				PlayCount:  playCount7,
				FailCount:  1,
				MaxCombo:   2,
			},
		},
	}
}

func makeBundle(userID int64) *FetchedBundle {
	return &FetchedBundle{
		Stats:    makeAPIStats(userID, 293, 1),
		Recent4K: []APIScore{makeAPIScore(101, 11, models.ModeKeys4, 32.5)},
		// score 101 is both recent and best; storage idempotency absorbs it
		Best4K:   []APIScore{makeAPIScore(101, 11, models.ModeKeys4, 32.5), makeAPIScore(102, 12, models.ModeKeys4, 28.1)},
		Recent7K: []APIScore{makeAPIScore(201, 21, models.ModeKeys7, 12.9)},
		Best7K:   []APIScore{makeAPIScore(202, 22, models.ModeKeys7, 19.4)},
	}
}

func seedUser(t *testing.T, db *gorm.DB, id int64, username string) {
	t.Helper()
	if err := db.Create(&models.User{ID: id, Username: username, Country: "US"}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
