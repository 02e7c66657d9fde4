package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rankkit/core"
)

// Completion describes one finished activity submitted by CompleteActivity.
type Completion struct {
	Score            int    `json:"score"`
	TimeSpentMinutes int64  `json:"time_spent_minutes,omitempty"`
	TotalPoints      int64  `json:"total_points"`
	Category         string `json:"category,omitempty"`
	Language         string `json:"language,omitempty"`
	// At overrides the completion time; zero means server time.
	At *time.Time `json:"at,omitempty"`
}

// CompletionResult mirrors the completion route response.
type CompletionResult struct {
	PointsAwarded      int64              `json:"points_awarded"`
	NewExperience      int64              `json:"new_experience"`
	NewLevel           int64              `json:"new_level"`
	NextLevelThreshold int64              `json:"next_level_threshold"`
	Achievements       []core.Achievement `json:"achievements"`
}

// Partition selects a leaderboard. The zero value is the all-time aggregate.
type Partition struct {
	Period   core.Period
	Category string
}

// Page is one leaderboard page.
type Page struct {
	Period     core.Period          `json:"period"`
	Category   string               `json:"category,omitempty"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"total_pages"`
	HasNext    bool                 `json:"has_next"`
	HasPrev    bool                 `json:"has_prev"`
	Records    []core.RankingRecord `json:"records"`
}

// Ranking is a user's record plus the records around it.
type Ranking struct {
	Record    core.RankingRecord   `json:"record"`
	Neighbors []core.RankingRecord `json:"neighbors"`
}

// History is a user's recent awards within one partition.
type History struct {
	UserID       core.UserID         `json:"user_id"`
	Period       core.Period         `json:"period"`
	Category     string              `json:"category,omitempty"`
	Position     int                 `json:"position"`
	LivePosition int                 `json:"live_position,omitempty"`
	PointsTotal  int64               `json:"points_total"`
	Level        int64               `json:"level"`
	Statistics   core.Statistics     `json:"statistics"`
	Achievements []core.Achievement  `json:"achievements"`
	Entries      []core.HistoryEntry `json:"entries"`
}

// Stats mirrors the /stats response.
type Stats struct {
	Period          core.Period `json:"period"`
	Category        string      `json:"category,omitempty"`
	Count           int         `json:"count"`
	MeanPointsTotal float64     `json:"mean_points_total"`
	TopScorer       *struct {
		UserID core.UserID `json:"user_id"`
		Value  int64       `json:"value"`
	} `json:"top_scorer,omitempty"`
	MostCompletions *struct {
		UserID core.UserID `json:"user_id"`
		Value  int64       `json:"value"`
	} `json:"most_completions,omitempty"`
	LanguagePopularity []struct {
		Language  string `json:"language"`
		UserCount int    `json:"user_count"`
	} `json:"language_popularity"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int             `json:"-"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is lets callers match server errors against the core sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case core.ErrAlreadyCompleted:
		return e.Code == "already_completed"
	case core.ErrNotRanked:
		return e.Code == "not_ranked"
	case core.ErrNotFound:
		return e.Code == "not_found"
	case core.ErrUnauthorized:
		return e.StatusCode == http.StatusForbidden
	case core.ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	case core.ErrStorageUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
