package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "rankkit/adapters/memory"
	"rankkit/engine"
)

const adminKey = "admin-secret"

func newTestService() *engine.RankingService {
	return engine.NewRankingService(mem.New(),
		engine.WithPublisher(engine.NewEventBus(engine.DispatchSync)),
		engine.WithAuthorizer(engine.NewKeyAuthorizer([]string{adminKey})),
	)
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCompleteActivity(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{PathPrefix: "/api"})

	rec := do(t, handler, http.MethodPost, "/api/users/alice/activities/a1/complete", `{"score":90,"total_points":50,"time_spent_minutes":12,"language":"Go"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.CompletionResult](t, rec)
	assert.Equal(t, int64(45), res.PointsAwarded)
	assert.Equal(t, int64(45), res.NewExperience)
	assert.Equal(t, int64(1), res.NewLevel)
	assert.Equal(t, int64(100), res.NextLevelThreshold)
	require.Len(t, res.Achievements, 1)
	assert.Equal(t, "first-activity", res.Achievements[0].Name)

	rec = do(t, handler, http.MethodPost, "/api/users/alice/activities/a1/complete", `{"score":100,"total_points":50}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	errBody := decode[apiError](t, rec)
	assert.Equal(t, "already_completed", errBody.Code)

	rec = do(t, handler, http.MethodGet, "/api/users/alice/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[map[string]any](t, rec)
	assert.EqualValues(t, 45, profile["experience"])
}

func TestCompleteActivityValidation(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/alice/activities/a1/complete", `{"score":150,"total_points":50}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decode[apiError](t, rec)
	assert.Equal(t, "invalid_input", errBody.Code)
	assert.Equal(t, map[string]any{"field": "score"}, errBody.Details)

	rec = do(t, handler, http.MethodPost, "/users/alice/activities/a1/complete", `{"score":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decode[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodPost, "/users/alice/activities/a1/complete", `{"points":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/users/alice/activities/a1/complete", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLeaderboardAndRecalculation(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{PathPrefix: "/api/"})

	for _, c := range []struct{ user, score string }{{"amy", "100"}, {"bob", "50"}, {"cat", "80"}} {
		rec := do(t, handler, http.MethodPost, "/api/users/"+c.user+"/activities/a1/complete", `{"score":`+c.score+`,"total_points":100}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, handler, http.MethodPost, "/api/admin/rankings/recalculate", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, handler, http.MethodPost, "/api/admin/rankings/recalculate", "", AdminKeyHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/admin/rankings/recalculate?period=all-time", "", AdminKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["touched"])

	rec = do(t, handler, http.MethodGet, "/api/leaderboard?page=1&page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[engine.Page](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "amy", string(page.Records[0].UserID))
	assert.Equal(t, "cat", string(page.Records[1].UserID))

	rec = do(t, handler, http.MethodGet, "/api/leaderboard?page=2&page_size=2", "")
	page = decode[engine.Page](t, rec)
	require.Len(t, page.Records, 1)
	assert.Equal(t, 3, page.Records[0].Position)

	rec = do(t, handler, http.MethodGet, "/api/leaderboard?page=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, handler, http.MethodGet, "/api/leaderboard?period=daily", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_period", decode[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodGet, "/api/users/cat/ranking", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ranking := decode[RankingResponse](t, rec)
	assert.Equal(t, 2, ranking.Record.Position)
	assert.Len(t, ranking.Neighbors, 3)

	rec = do(t, handler, http.MethodGet, "/api/users/amy/neighbors?radius=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	around := decode[struct {
		Records []map[string]any `json:"records"`
	}](t, rec)
	assert.Len(t, around.Records, 2)

	rec = do(t, handler, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[engine.PartitionStats](t, rec)
	assert.Equal(t, 3, st.Count)
	require.NotNil(t, st.TopScorer)
	assert.Equal(t, "amy", string(st.TopScorer.UserID))
}

func TestUserRoutesNotFound(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})

	rec := do(t, handler, http.MethodGet, "/users/ghost/profile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodGet, "/users/ghost/ranking?period=weekly", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_ranked", decode[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodGet, "/users/ghost/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterPublicationAndHistory(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{})

	rec := do(t, handler, http.MethodPost, "/users/dana/register", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, handler, http.MethodGet, "/users/dana/ranking?period=monthly", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodPost, "/users/dana/publications", `{"category":"math","rating":4.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, handler, http.MethodPost, "/users/dana/publications", `{"rating":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, a := range []string{"a1", "a2"} {
		rec = do(t, handler, http.MethodPost, "/users/dana/activities/"+a+"/complete", `{"score":100,"total_points":20,"category":"math"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/users/dana/history?category=math&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[engine.History](t, rec)
	assert.Equal(t, "math", h.Category)
	assert.Len(t, h.Entries, 1)
	assert.Equal(t, int64(1), h.Statistics.Publications)
}

func TestHealthz(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{PathPrefix: "/api"})
	rec := do(t, handler, http.MethodGet, "/api/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, handler, http.MethodGet, "/api/leaderboard", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/leaderboard", "", "Authorization", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header")
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{AllowCORSOrigin: "https://app.example"})
	rec := do(t, handler, http.MethodOptions, "/leaderboard", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), AdminKeyHeader)
}

func TestRateLimit(t *testing.T) {
	handler := NewMux(newTestService(), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec1 := do(t, handler, http.MethodGet, "/api/leaderboard", "", "X-API-Key", "k")
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec1.Code)
	}
	rec2 := do(t, handler, http.MethodGet, "/api/leaderboard", "", "X-API-Key", "k")
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(60, 2, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		assert.True(t, l.allow("client-"+strconv.Itoa(i)))
	}
	assert.Equal(t, 50, l.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("fresh"))
	assert.Equal(t, 1, l.size(), "idle buckets should be evicted")

	now = now.Add(10 * time.Second)
	assert.True(t, l.allow("other"))
	assert.Equal(t, 2, l.size(), "sweep runs at most once per interval")
}

func TestRateLimiterWithoutCleanupKeepsBuckets(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(60, 2, 0)
	l.now = func() time.Time { return now }
	l.allow("a")
	now = now.Add(time.Hour)
	l.allow("b")
	assert.Equal(t, 2, l.size())
}
