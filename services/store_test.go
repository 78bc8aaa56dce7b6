// services/store_test.go
package services

import (
	"testing"
	"time"

	"github.com/Ameobea/quavertrack/models"
)

func TestStoreBundleIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewSyncService(db, nil)
	seedUser(t, db, 19250, "ameo")

	bundle := makeBundle(19250)

	first, err := svc.storeBundle(19250, bundle)
	if err != nil {
		t.Fatalf("first storeBundle: %v", err)
	}

	// 4 distinct maps / 4 distinct scores in the bundle (one score appears in
	// both the recent and best views)
	if got := countRows(t, db, &models.Map{}); got != 4 {
		t.Errorf("maps after first pass = %d, want 4", got)
	}
	if got := countRows(t, db, &models.Score{}); got != 4 {
		t.Errorf("scores after first pass = %d, want 4", got)
	}
	if got := countRows(t, db, &models.StatsUpdate{}); got != 2 {
		t.Errorf("stats rows after first pass = %d, want 2", got)
	}
	if len(first.NewScores) != 4 {
		t.Errorf("new scores on first pass = %d, want 4", len(first.NewScores))
	}

	second, err := svc.storeBundle(19250, bundle)
	if err != nil {
		t.Fatalf("second storeBundle: %v", err)
	}

	// Maps and scores are deduplicated by storage; stats history is
	// append-only and grows by exactly two rows per pass regardless
	if got := countRows(t, db, &models.Map{}); got != 4 {
		t.Errorf("maps after second pass = %d, want 4", got)
	}
	if got := countRows(t, db, &models.Score{}); got != 4 {
		t.Errorf("scores after second pass = %d, want 4", got)
	}
	if got := countRows(t, db, &models.StatsUpdate{}); got != 4 {
		t.Errorf("stats rows after second pass = %d, want 4", got)
	}
	if len(second.NewScores) != 0 {
		t.Errorf("new scores on second pass = %d, want 0", len(second.NewScores))
	}
}

func TestStoreBundleReferentialIntegrity(t *testing.T) {
	db := newTestDB(t)
	svc := NewSyncService(db, nil)
	seedUser(t, db, 19250, "ameo")

	if _, err := svc.storeBundle(19250, makeBundle(19250)); err != nil {
		t.Fatalf("storeBundle: %v", err)
	}

	var scores []models.Score
	if err := db.Find(&scores).Error; err != nil {
		t.Fatalf("querying scores: %v", err)
	}
	if len(scores) == 0 {
		t.Fatal("expected stored scores")
	}

	for _, sc := range scores {
		var count int64
		if err := db.Model(&models.Map{}).Where("id = ?", sc.MapID).Count(&count).Error; err != nil {
			t.Fatalf("querying map %d: %v", sc.MapID, err)
		}
		if count != 1 {
			t.Errorf("score %d references map %d which has %d rows", sc.ID, sc.MapID, count)
		}
	}
}

func TestStoreBundleAdvancesLastSyncedAt(t *testing.T) {
	db := newTestDB(t)
	svc := NewSyncService(db, nil)
	seedUser(t, db, 19250, "ameo")

	readLastSynced := func() *time.Time {
		var user models.User
		if err := db.First(&user, 19250).Error; err != nil {
			t.Fatalf("querying user: %v", err)
		}
		return user.LastSyncedAt
	}

	if ts := readLastSynced(); ts != nil {
		t.Fatalf("last_synced_at should start null, got %v", ts)
	}

	if _, err := svc.storeBundle(19250, makeBundle(19250)); err != nil {
		t.Fatalf("first storeBundle: %v", err)
	}
	firstTS := readLastSynced()
	if firstTS == nil {
		t.Fatal("last_synced_at not set by storeBundle")
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := svc.storeBundle(19250, makeBundle(19250)); err != nil {
		t.Fatalf("second storeBundle: %v", err)
	}
	secondTS := readLastSynced()
	if secondTS.Before(*firstTS) {
		t.Errorf("last_synced_at went backwards: %v → %v", firstTS, secondTS)
	}
}

func TestGetStatsHistoryAscending(t *testing.T) {
	db := newTestDB(t)
	svc := NewSyncService(db, nil)
	seedUser(t, db, 19250, "ameo")

	now := time.Now().UTC()
	rows := []models.StatsUpdate{
		{UserID: 19250, Mode: models.ModeKeys4, RecordedAt: now.Add(-1 * time.Hour), PlayCount: 3},
		{UserID: 19250, Mode: models.ModeKeys4, RecordedAt: now.Add(-3 * time.Hour), PlayCount: 1},
		{UserID: 19250, Mode: models.ModeKeys4, RecordedAt: now.Add(-2 * time.Hour), PlayCount: 2},
		{UserID: 19250, Mode: models.ModeKeys7, RecordedAt: now, PlayCount: 99},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seeding stats rows: %v", err)
	}

	history, err := svc.GetStatsHistoryForUser(19250, models.ModeKeys4)
	if err != nil {
		t.Fatalf("GetStatsHistoryForUser: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d rows, want 3 (mode filter)", len(history))
	}
	for i, update := range history {
		if want := int64(i + 1); update.PlayCount != want {
			t.Errorf("row %d play_count = %d, want %d (ascending recorded_at)", i, update.PlayCount, want)
		}
	}
}

func TestGetScoresForUserOrderingAndMaps(t *testing.T) {
	db := newTestDB(t)
	svc := NewSyncService(db, nil)
	seedUser(t, db, 19250, "ameo")

	bundle := makeBundle(19250)
	if _, err := svc.storeBundle(19250, bundle); err != nil {
		t.Fatalf("storeBundle: %v", err)
	}

	maps, scores, err := svc.GetScoresForUser(19250, models.ModeKeys4)
	if err != nil {
		t.Fatalf("GetScoresForUser: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d mode-1 scores, want 2", len(scores))
	}
	if scores[0].PerformanceRating < scores[1].PerformanceRating {
		t.Error("scores not ordered best rating first")
	}
	if len(maps) != 2 {
		t.Errorf("got %d maps, want 2", len(maps))
	}
	for _, m := range maps {
		if m.Slug == "" {
			t.Errorf("map %d stored without a slug", m.ID)
		}
	}
}

func TestGetLeastRecentlySyncedUserID(t *testing.T) {
	db := newTestDB(t)
	svc := NewSyncService(db, nil)

	now := time.Now().UTC()
	stale := now.Add(-24 * time.Hour)
	fresh := now.Add(-1 * time.Minute)

	if err := db.Create(&[]models.User{
		{ID: 1, Username: "fresh", LastSyncedAt: &fresh},
		{ID: 2, Username: "neversynced"},
		{ID: 3, Username: "stale", LastSyncedAt: &stale},
	}).Error; err != nil {
		t.Fatalf("seeding users: %v", err)
	}

	// Never-synced users come first
	id, err := svc.getLeastRecentlySyncedUserID()
	if err != nil {
		t.Fatalf("getLeastRecentlySyncedUserID: %v", err)
	}
	if id != 2 {
		t.Fatalf("picked user %d, want never-synced user 2", id)
	}

	if err := svc.touchLastSyncedAt(2); err != nil {
		t.Fatalf("touchLastSyncedAt: %v", err)
	}

	// Then the stalest timestamp
	id, err = svc.getLeastRecentlySyncedUserID()
	if err != nil {
		t.Fatalf("getLeastRecentlySyncedUserID: %v", err)
	}
	if id != 3 {
		t.Fatalf("picked user %d, want stale user 3", id)
	}
}
