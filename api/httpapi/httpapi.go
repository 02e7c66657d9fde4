package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	wsadapter "rankkit/adapters/websocket"
	"rankkit/core"
	"rankkit/engine"
	"rankkit/realtime"
)

// AdminKeyHeader carries the capability token for administrative routes.
const AdminKeyHeader = "X-Admin-Key"

const defaultRadius = 5

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup evicts client buckets idle for longer than this. Zero keeps them.
	RateLimitCleanup time.Duration
	Logger           *slog.Logger
}

type api struct {
	svc *engine.RankingService
	log *slog.Logger
}

// NewMux builds an http.Handler exposing the ranking REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users/{id}/register
//   - POST {prefix}/users/{id}/activities/{activity}/complete
//   - POST {prefix}/users/{id}/publications
//   - GET  {prefix}/users/{id}/profile
//   - GET  {prefix}/users/{id}/ranking?period=&category=
//   - GET  {prefix}/users/{id}/neighbors?period=&category=&radius=
//   - GET  {prefix}/users/{id}/history?period=&category=&limit=
//   - GET  {prefix}/leaderboard?period=&category=&page=&page_size=
//   - GET  {prefix}/stats?period=&category=
//   - POST {prefix}/admin/rankings/recalculate?period=&category= (X-Admin-Key)
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws?user_id=&types=
func NewMux(svc *engine.RankingService, hub *realtime.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &api{svc: svc, log: opts.Logger}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.health)
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub, opts.Logger))
	}

	route(http.MethodPost, "/users/{id}/register", a.register)
	route(http.MethodPost, "/users/{id}/activities/{activity}/complete", a.complete)
	route(http.MethodPost, "/users/{id}/publications", a.publication)
	route(http.MethodGet, "/users/{id}/profile", a.profile)
	route(http.MethodGet, "/users/{id}/ranking", a.ranking)
	route(http.MethodGet, "/users/{id}/neighbors", a.neighbors)
	route(http.MethodGet, "/users/{id}/history", a.history)
	route(http.MethodGet, "/leaderboard", a.leaderboard)
	route(http.MethodGet, "/stats", a.stats)
	route(http.MethodPost, "/admin/rankings/recalculate", a.recalculate)

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	return handler
}

// health verifies the store is reachable.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	if err := a.svc.Health(r.Context()); err != nil {
		a.log.Warn("health check failed", "error", err)
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
		writeJSONStatus(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, status)
}

// CompleteRequest is the body of the completion route.
type CompleteRequest struct {
	Score            int       `json:"score"`
	TimeSpentMinutes int64     `json:"time_spent_minutes"`
	TotalPoints      int64     `json:"total_points"`
	Category         string    `json:"category,omitempty"`
	Language         string    `json:"language,omitempty"`
	At               time.Time `json:"at,omitempty"`
}

func (a *api) complete(w http.ResponseWriter, r *http.Request) {
	var body CompleteRequest
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := a.svc.CompleteActivity(r.Context(), engine.CompletionRequest{
		UserID:           core.UserID(r.PathValue("id")),
		ActivityID:       core.ActivityID(r.PathValue("activity")),
		Score:            body.Score,
		TimeSpentMinutes: body.TimeSpentMinutes,
		TotalPoints:      body.TotalPoints,
		Category:         body.Category,
		Language:         body.Language,
		At:               body.At,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.RegisterUser(r.Context(), core.UserID(r.PathValue("id")))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

// PublicationRequest is the body of the publication route. Rating is optional.
type PublicationRequest struct {
	Category string   `json:"category,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
}

func (a *api) publication(w http.ResponseWriter, r *http.Request) {
	var body PublicationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := a.svc.RecordPublication(r.Context(), core.UserID(r.PathValue("id")), body.Category, body.Rating); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *api) profile(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetProfile(r.Context(), core.UserID(r.PathValue("id")))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, p)
}

// RankingResponse is a user's record with the records around it.
type RankingResponse struct {
	Record    core.RankingRecord   `json:"record"`
	Neighbors []core.RankingRecord `json:"neighbors"`
}

func (a *api) ranking(w http.ResponseWriter, r *http.Request) {
	period, category, ok := partitionQuery(w, r)
	if !ok {
		return
	}
	user := core.UserID(r.PathValue("id"))
	rec, err := a.svc.GetRecord(r.Context(), user, period, category)
	if err != nil {
		a.fail(w, err)
		return
	}
	around, err := a.svc.GetNeighbors(r.Context(), user, period, category, defaultRadius)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, RankingResponse{Record: rec, Neighbors: around})
}

func (a *api) neighbors(w http.ResponseWriter, r *http.Request) {
	period, category, ok := partitionQuery(w, r)
	if !ok {
		return
	}
	radius, ok := queryInt(w, r, "radius", defaultRadius)
	if !ok {
		return
	}
	recs, err := a.svc.GetNeighbors(r.Context(), core.UserID(r.PathValue("id")), period, category, radius)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"records": recs})
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	period, category, ok := partitionQuery(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", engine.DefaultHistoryLen)
	if !ok {
		return
	}
	h, err := a.svc.GetHistory(r.Context(), core.UserID(r.PathValue("id")), period, category, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, h)
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	period, category, ok := partitionQuery(w, r)
	if !ok {
		return
	}
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	size, ok := queryInt(w, r, "page_size", 0)
	if !ok {
		return
	}
	res, err := a.svc.GetLeaderboard(r.Context(), period, category, page, size)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	period, category, ok := partitionQuery(w, r)
	if !ok {
		return
	}
	st, err := a.svc.GetStatistics(r.Context(), period, category)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, st)
}

func (a *api) recalculate(w http.ResponseWriter, r *http.Request) {
	period, category, ok := partitionQuery(w, r)
	if !ok {
		return
	}
	capability := engine.Capability(r.Header.Get(AdminKeyHeader))
	touched, err := a.svc.RecalculateRankings(r.Context(), capability, period, category)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"period": period, "category": category, "touched": touched})
}

// fail maps engine errors onto HTTP statuses.
func (a *api) fail(w http.ResponseWriter, err error) {
	var inputErr *core.InputError
	var dupErr *core.AlreadyCompletedError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), map[string]string{"field": inputErr.Field})
	case errors.Is(err, core.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.As(err, &dupErr):
		writeError(w, http.StatusConflict, "already_completed", err.Error(), dupErr.Existing)
	case errors.Is(err, core.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "already_completed", err.Error(), nil)
	case errors.Is(err, core.ErrNotRanked):
		writeError(w, http.StatusNotFound, "not_ranked", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "administrative capability required", nil)
	case errors.Is(err, core.ErrStorageUnavailable):
		a.log.Error("storage unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable", nil)
	default:
		a.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

const maxBodyBytes = 1 << 20

// decodeBody reads an optional JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return false
	}
	return true
}

func partitionQuery(w http.ResponseWriter, r *http.Request) (core.Period, string, bool) {
	q := r.URL.Query()
	period, err := core.ParsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_period", err.Error(), nil)
		return "", "", false
	}
	return period, strings.ToLower(strings.TrimSpace(q.Get("category"))), true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer", nil)
		return 0, false
	}
	return n, true
}
