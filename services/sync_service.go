// services/sync_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ameobea/quavertrack/models"
	"github.com/Ameobea/quavertrack/utils"
)

const defaultCooldownSeconds = 10

// SyncService owns the user synchronization pipeline: identity resolution,
// the update cooldown, the five-way concurrent fetch against the Quaver API,
// and the idempotent merge into the database.
type SyncService struct {
	DB     *gorm.DB
	Client *QuaverClient

	// Minimum interval between synchronizations of the same user
	CooldownSeconds int64
}

func NewSyncService(db *gorm.DB, client *QuaverClient) *SyncService {
	cooldown := int64(defaultCooldownSeconds)
	if raw := os.Getenv("UPDATE_COOLDOWN_SECONDS"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			log.Printf("⚠️  Invalid UPDATE_COOLDOWN_SECONDS=%q, using default %d", raw, defaultCooldownSeconds)
		} else {
			cooldown = parsed
		}
	}

	return &SyncService{
		DB:              db,
		Client:          client,
		CooldownSeconds: cooldown,
	}
}

// ResolveUser turns a free-form identifier (username or numeric id) into the
// canonical (username, user id) pair. Local storage is consulted first; only
// a full miss hits the Quaver API, and a remote hit is persisted so the next
// resolution is local. found is false when neither side knows the identifier.
// An error means infrastructure failure, never absence.
func (s *SyncService) ResolveUser(ctx context.Context, identifier string) (username string, userID int64, found bool, err error) {
	identifier = strings.TrimSpace(identifier)
	lowered := strings.ToLower(identifier)

	// 1. Local lookup by username (stored lower-cased)
	var user models.User
	dbErr := s.DB.Where("username = ?", lowered).First(&user).Error
	if dbErr == nil {
		return user.Username, user.ID, true, nil
	}
	if !errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return "", 0, false, dbErr
	}

	// 2. Local lookup by id if the identifier is numeric
	if parsedID, parseErr := strconv.ParseInt(identifier, 10, 64); parseErr == nil {
		dbErr = s.DB.First(&user, parsedID).Error
		if dbErr == nil {
			return user.Username, user.ID, true, nil
		}
		if !errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return "", 0, false, dbErr
		}
	}

	// 3. Fall back to the Quaver API
	apiUser, err := s.Client.LookupUser(ctx, identifier)
	if err != nil {
		return "", 0, false, err
	}
	if apiUser == nil {
		return "", 0, false, nil
	}

	newUser := models.User{
		ID:             apiUser.ID,
		Username:       strings.ToLower(apiUser.Username),
		SteamID:        apiUser.SteamID,
		TimeRegistered: apiUser.TimeRegistered,
		Country:        apiUser.Country,
		AvatarURL:      apiUser.AvatarURL,
	}

	// A concurrent resolution of the same identity may have inserted this
	// user already; a conflict just means someone beat us to it.
	if err := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&newUser).Error; err != nil {
		return "", 0, false, err
	}

	log.Printf("[SYNC] 🆕 Resolved and stored new user id=%d username=%q", newUser.ID, newUser.Username)
	go s.mirrorAvatar(newUser.ID, newUser.AvatarURL)

	return newUser.Username, newUser.ID, true, nil
}

// mirrorAvatar copies a newly seen user's avatar to R2 in the background.
// Best effort: a failed mirror never fails the resolution that triggered it.
func (s *SyncService) mirrorAvatar(userID int64, avatarURL string) {
	if !utils.R2Enabled() || avatarURL == "" {
		return
	}

	mirrorURL, err := utils.MirrorAvatar(avatarURL)
	if err != nil {
		log.Printf("[SYNC] ⚠️ Failed to mirror avatar for user %d: %v", userID, err)
		return
	}

	if err := s.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("avatar_mirror_url", mirrorURL).Error; err != nil {
		log.Printf("[SYNC] ⚠️ Failed to record mirrored avatar for user %d: %v", userID, err)
	}
}

// checkCooldown rejects a synchronization if the user's latest stats row is
// newer than the cooldown threshold. Deliberately not transactional with the
// fetch/store that follows: two requests racing past the gate just produce a
// duplicate append that idempotent storage absorbs.
func (s *SyncService) checkCooldown(userID int64) error {
	lastUpdate, err := s.getLastUpdateTimestamp(userID)
	if err != nil {
		return err
	}
	if lastUpdate == nil {
		return nil
	}

	elapsed := int64(time.Since(*lastUpdate).Seconds())
	if elapsed < s.CooldownSeconds {
		return &CooldownError{RemainingSeconds: s.CooldownSeconds - elapsed}
	}
	return nil
}

// FetchedBundle is the joined result of the five per-synchronization remote
// calls.
type FetchedBundle struct {
	Stats    *APIStatsUser
	Recent4K []APIScore
	Best4K   []APIScore
	Recent7K []APIScore
	Best7K   []APIScore
}

// fetchAll issues the five Quaver API calls concurrently and joins them:
// one stats call plus {recent, best} scores for each mode. The join is
// all-or-nothing: any transport failure or any embedded 404 fails the whole
// bundle, and results of calls that already finished are dropped. Nothing has
// been persisted at this point, so there is nothing to roll back.
func (s *SyncService) fetchAll(ctx context.Context, userID int64) (*FetchedBundle, error) {
	bundle := &FetchedBundle{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := s.Client.GetUserStats(ctx, userID)
		if err != nil {
			return err
		}
		if stats == nil {
			return ErrUserNotFound
		}
		bundle.Stats = stats
		return nil
	})

	scoreFetch := func(kind string, mode int16, dst *[]APIScore) func() error {
		return func() error {
			var (
				scores []APIScore
				found  bool
				err    error
			)
			if kind == "recent" {
				scores, found, err = s.Client.GetUserRecentScores(ctx, userID, mode)
			} else {
				scores, found, err = s.Client.GetUserBestScores(ctx, userID, mode)
			}
			if err != nil {
				return err
			}
			if !found {
				return ErrUserNotFound
			}
			*dst = scores
			return nil
		}
	}

	g.Go(scoreFetch("recent", models.ModeKeys4, &bundle.Recent4K))
	g.Go(scoreFetch("best", models.ModeKeys4, &bundle.Best4K))
	g.Go(scoreFetch("recent", models.ModeKeys7, &bundle.Recent7K))
	g.Go(scoreFetch("best", models.ModeKeys7, &bundle.Best7K))

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// SynchronizeUser runs one full synchronization for an already-resolved user
// id: concurrent fetch, then one transactional merge/store pass.
func (s *SyncService) SynchronizeUser(ctx context.Context, userID int64) (*SyncResult, error) {
	bundle, err := s.fetchAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.storeBundle(userID, bundle)
	if err != nil {
		return nil, err
	}

	log.Printf("[SYNC] ✅ Synchronized user %d: %d maps touched, %d new scores",
		userID, len(result.Maps), len(result.NewScores))
	return result, nil
}

// SynchronizeOldest picks the least-recently-synchronized user and runs a
// full synchronization for them. On a remote 404 the user's last_synced_at is
// still advanced so the next cycle picks someone else; any other failure
// leaves the timestamp alone and the same user is retried next cycle.
func (s *SyncService) SynchronizeOldest(ctx context.Context) (int64, error) {
	userID, err := s.getLeastRecentlySyncedUserID()
	if err != nil {
		return 0, err
	}

	if _, err := s.SynchronizeUser(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Printf("[SYNC] ⚠️ User %d no longer exists on Quaver; advancing last_synced_at", userID)
			if touchErr := s.touchLastSyncedAt(userID); touchErr != nil {
				return userID, touchErr
			}
		}
		return userID, err
	}

	return userID, nil
}

// parseMode accepts the mode aliases the frontend sends ("4k", "7", "k7", …)
// and maps them onto the two internal modes.
func parseMode(raw string) (int16, bool) {
	switch strings.ToLower(raw) {
	case "1", "4", "4k", "k4":
		return models.ModeKeys4, true
	case "2", "7", "7k", "k7":
		return models.ModeKeys7, true
	default:
		return 0, false
	}
}

// HandleUpdate is the route handler for POST /api/update/:user: resolve,
// gate, fetch, store, and return the fresh snapshot.
func (s *SyncService) HandleUpdate(c *fiber.Ctx) error {
	identifier := c.Params("user")

	_, userID, found, err := s.ResolveUser(c.UserContext(), identifier)
	if err != nil {
		log.Printf("[SYNC] ❌ Error resolving user %q: %v", identifier, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error resolving user"})
	}
	if !found {
		log.Printf("[SYNC] No user found for identifier %q", identifier)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}

	if err := s.checkCooldown(userID); err != nil {
		var cooldown *CooldownError
		if errors.As(err, &cooldown) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":             cooldown.Error(),
				"seconds_remaining": cooldown.RemainingSeconds,
			})
		}
		log.Printf("[SYNC] ❌ Error checking cooldown for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	result, err := s.SynchronizeUser(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Printf("[SYNC] User %d not found on Quaver during update", userID)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		log.Printf("[SYNC] ❌ Error synchronizing user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "error updating user; internal error"})
	}

	return c.JSON(result)
}

// GetScoresResponse mirrors what the frontend consumes: maps keyed by id plus
// the score list referencing them.
type GetScoresResponse struct {
	Maps   map[int64]models.Map `json:"maps"`
	Scores []models.Score       `json:"scores"`
}

// HandleGetScores is the route handler for GET /api/user/:user/:mode/scores.
func (s *SyncService) HandleGetScores(c *fiber.Ctx) error {
	identifier := c.Params("user")

	_, userID, found, err := s.ResolveUser(c.UserContext(), identifier)
	if err != nil {
		log.Printf("[SYNC] ❌ Error resolving user %q: %v", identifier, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error resolving user"})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}

	mode, ok := parseMode(c.Params("mode"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid mode provided"})
	}

	maps, scores, err := s.GetScoresForUser(userID, mode)
	if err != nil {
		log.Printf("[SYNC] ❌ Error querying scores for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "error querying database"})
	}

	mapsByID := make(map[int64]models.Map, len(maps))
	for _, m := range maps {
		mapsByID[m.ID] = m
	}

	return c.JSON(GetScoresResponse{Maps: mapsByID, Scores: scores})
}

// HandleGetStatsHistory is the route handler for
// GET /api/user/:user/:mode/stats_history.
func (s *SyncService) HandleGetStatsHistory(c *fiber.Ctx) error {
	identifier := c.Params("user")

	_, userID, found, err := s.ResolveUser(c.UserContext(), identifier)
	if err != nil {
		log.Printf("[SYNC] ❌ Error resolving user %q: %v", identifier, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error resolving user"})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}

	mode, ok := parseMode(c.Params("mode"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid mode provided"})
	}

	updates, err := s.GetStatsHistoryForUser(userID, mode)
	if err != nil {
		log.Printf("[SYNC] ❌ Error querying stats history for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "error querying database"})
	}

	return c.JSON(updates)
}

// HandleUpdateOldest is the route handler for POST /api/update_oldest, the
// batch trigger hit by cron. Auth is enforced by middleware before we get
// here.
func (s *SyncService) HandleUpdateOldest(c *fiber.Ctx) error {
	userID, err := s.SynchronizeOldest(c.UserContext())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found from Quaver API"})
		}
		log.Printf("[SYNC] ❌ Error updating oldest user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error while updating oldest user"})
	}

	return c.SendString(fmt.Sprintf("Updated user id %d", userID))
}
