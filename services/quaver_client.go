// services/quaver_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Ameobea/quavertrack/utils"
)

const quaverAPIBaseURL = "https://api.quavergame.com"

// QuaverClient provides typed read access to the Quaver API. The API reports
// its own errors in-band: responses carry a `status` field (and an `error`
// message on failure) even when the HTTP status is 200, so every decode goes
// through the envelope check rather than trusting the transport status.
type QuaverClient struct {
	BaseURL string
	Client  *http.Client
}

func NewQuaverClient() *QuaverClient {
	return &QuaverClient{
		BaseURL: quaverAPIBaseURL,
		Client:  utils.HTTPClient,
	}
}

// apiEnvelope is embedded in every Quaver API response type.
type apiEnvelope struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// check maps the embedded status to an outcome: 200 → found, 404 → absent,
// anything else → hard error carrying the API's own message.
func (e apiEnvelope) check() (bool, error) {
	switch e.Status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		log.Printf("[QUAVER] ❌ API reported error: status=%d, error=%q", e.Status, e.Error)
		return false, &APIStatusError{Status: e.Status, Message: e.Error}
	}
}

// APIUser is a user identity record as returned by /v1/users and
// /v1/users/search.
type APIUser struct {
	ID             int64      `json:"id"`
	SteamID        *string    `json:"steam_id"`
	Username       string     `json:"username"`
	TimeRegistered *time.Time `json:"time_registered"`
	Country        string     `json:"country"`
	AvatarURL      string     `json:"avatar_url"`
}

// APIMap is the map object embedded in each score response.
type APIMap struct {
	ID              int64  `json:"id"`
	MapsetID        int64  `json:"mapset_id"`
	MD5             string `json:"md5"`
	Artist          string `json:"artist"`
	Title           string `json:"title"`
	DifficultyName  string `json:"difficulty_name"`
	CreatorID       int64  `json:"creator_id"`
	CreatorUsername string `json:"creator_username"`
	RankedStatus    int16  `json:"ranked_status"`
}

// APIScore is one play result from /v1/users/scores/{recent,best}.
type APIScore struct {
	ID                int64     `json:"id"`
	Time              time.Time `json:"time"`
	Mode              int16     `json:"mode"`
	Mods              int64     `json:"mods"`
	ModsString        string    `json:"mods_string"`
	PerformanceRating float64   `json:"performance_rating"`
	PersonalBest      bool      `json:"personal_best"`
	IsDonatorScore    *bool     `json:"is_donator_score"`
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
	Map               APIMap    `json:"map"`
}

// APIModeStats is the per-mode aggregate block from /v1/users/full.
type APIModeStats struct {
	GlobalRank         int64           `json:"globalRank"`
	CountryRank        int64           `json:"countryRank"`
	MultiplayerWinRank int64           `json:"multiplayerWinRank"`
	Stats              APIModeStatsRaw `json:"stats"`
}

type APIModeStatsRaw struct {
	UserID                   int64   `json:"user_id"`
	TotalScore               int64   `json:"total_score"`
	RankedScore              int64   `json:"ranked_score"`
	OverallAccuracy          float64 `json:"overall_accuracy"`
	OverallPerformanceRating float64 `json:"overall_performance_rating"`
	PlayCount                int64   `json:"play_count"`
	FailCount                int64   `json:"fail_count"`
	MaxCombo                 int64   `json:"max_combo"`
	ReplaysWatched           int64   `json:"replays_watched"`
	TotalMarv                int64   `json:"total_marv"`
	TotalPerf                int64   `json:"total_perf"`
	TotalGreat               int64   `json:"total_great"`
	TotalGood                int64   `json:"total_good"`
	TotalOkay                int64   `json:"total_okay"`
	TotalMiss                int64   `json:"total_miss"`
	TotalPauses              int64   `json:"total_pauses"`
	MultiplayerWins          int64   `json:"multiplayer_wins"`
	MultiplayerLosses        int64   `json:"multiplayer_losses"`
	MultiplayerTies          int64   `json:"multiplayer_ties"`
}

// APIStatsUser is the full stats snapshot: user identity plus one aggregate
// block per mode.
type APIStatsUser struct {
	Info  APIUser      `json:"info"`
	Keys4 APIModeStats `json:"keys4"`
	Keys7 APIModeStats `json:"keys7"`
}

type apiStatsResponse struct {
	apiEnvelope
	User APIStatsUser `json:"user"`
}

type apiScoresResponse struct {
	apiEnvelope
	Scores []APIScore `json:"scores"`
}

type apiUsersResponse struct {
	apiEnvelope
	Users []APIUser `json:"users"`
}

type apiSearchResponse struct {
	apiEnvelope
	Users []APIUser `json:"users"`
}

// getJSON performs a GET against the API and decodes the body into out. The
// Quaver API puts its real status inside the body, so the HTTP status is only
// logged, never branched on; a body that doesn't decode is a transport-level
// failure.
func (c *QuaverClient) getJSON(ctx context.Context, path string, out interface{}) error {
	fullURL := c.BaseURL + path
	log.Printf("[QUAVER] ➡️  GET %s", fullURL)

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", fullURL, err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to quaver API failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[QUAVER] ⚠️ Non-200 transport status %d from %s (envelope still decodes)", resp.StatusCode, fullURL)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode quaver API response from %s: %w", fullURL, err)
	}

	return nil
}

// GetUserStats fetches the full stats snapshot for a user id. Returns
// (nil, nil) when the API reports the user does not exist.
func (c *QuaverClient) GetUserStats(ctx context.Context, userID int64) (*APIStatsUser, error) {
	var res apiStatsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/users/full/%d/", userID), &res); err != nil {
		return nil, err
	}

	found, err := res.check()
	if err != nil || !found {
		return nil, err
	}

	return &res.User, nil
}

// GetUserRecentScores fetches a user's most recent scores for one mode.
// found is false when the API reports the user does not exist.
func (c *QuaverClient) GetUserRecentScores(ctx context.Context, userID int64, mode int16) ([]APIScore, bool, error) {
	return c.getUserScores(ctx, "recent", userID, mode)
}

// GetUserBestScores fetches a user's top scores for one mode. found is false
// when the API reports the user does not exist.
func (c *QuaverClient) GetUserBestScores(ctx context.Context, userID int64, mode int16) ([]APIScore, bool, error) {
	return c.getUserScores(ctx, "best", userID, mode)
}

func (c *QuaverClient) getUserScores(ctx context.Context, kind string, userID int64, mode int16) ([]APIScore, bool, error) {
	var res apiScoresResponse
	path := fmt.Sprintf("/v1/users/scores/%s?id=%d&mode=%d", kind, userID, mode)
	if err := c.getJSON(ctx, path, &res); err != nil {
		return nil, false, err
	}

	found, err := res.check()
	if err != nil || !found {
		return nil, false, err
	}

	return res.Scores, true, nil
}

// getUserByID looks a user up by numeric id. The endpoint never 404s; an
// unknown id just comes back as an empty list.
func (c *QuaverClient) getUserByID(ctx context.Context, userID int64) (*APIUser, error) {
	var res apiUsersResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/users?id=%d", userID), &res); err != nil {
		return nil, err
	}

	if _, err := res.check(); err != nil {
		return nil, err
	}

	if len(res.Users) == 0 {
		return nil, nil
	}
	return &res.Users[0], nil
}

// LookupUser resolves a free-form identifier (numeric id or username) to a
// full user identity via the API. Returns (nil, nil) when no user matches.
func (c *QuaverClient) LookupUser(ctx context.Context, identifier string) (*APIUser, error) {
	log.Printf("[QUAVER] 🔍 Looking up user %q", identifier)

	// Try by id first if the identifier is numeric
	if parsedID, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		user, err := c.getUserByID(ctx, parsedID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	// Fall back to a username search
	var res apiSearchResponse
	if err := c.getJSON(ctx, "/v1/users/search/"+url.PathEscape(identifier), &res); err != nil {
		return nil, err
	}
	if _, err := res.check(); err != nil {
		return nil, err
	}
	if len(res.Users) == 0 {
		return nil, nil
	}

	// The search result is a partial record; fetch the full identity by id
	return c.getUserByID(ctx, res.Users[0].ID)
}
