package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rankkit/core"
)

// AdminKeyHeader carries the capability for administrative calls.
const AdminKeyHeader = "X-Admin-Key"

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the rankkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
	adminKey   string
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithAdminKey sets the capability sent with Recalculate.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = strings.TrimSpace(key) }
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RegisterUser creates an empty profile and zeroed records for the user.
func (c *Client) RegisterUser(ctx context.Context, userID string) (core.UserProfile, error) {
	var p core.UserProfile
	if err := c.userCall(ctx, http.MethodPost, userID, "/register", nil, nil, &p); err != nil {
		return core.UserProfile{}, err
	}
	return p, nil
}

// CompleteActivity submits a finished activity. A repeat submission fails
// with an error matching core.ErrAlreadyCompleted.
func (c *Client) CompleteActivity(ctx context.Context, userID, activityID string, in Completion) (CompletionResult, error) {
	if strings.TrimSpace(activityID) == "" {
		return CompletionResult{}, errors.New("activity id is required")
	}
	var res CompletionResult
	path := "/activities/" + url.PathEscape(activityID) + "/complete"
	if err := c.userCall(ctx, http.MethodPost, userID, path, nil, in, &res); err != nil {
		return CompletionResult{}, err
	}
	return res, nil
}

// RecordPublication counts a published activity for the author. rating may be nil.
func (c *Client) RecordPublication(ctx context.Context, userID, category string, rating *float64) error {
	body := struct {
		Category string   `json:"category,omitempty"`
		Rating   *float64 `json:"rating,omitempty"`
	}{category, rating}
	return c.userCall(ctx, http.MethodPost, userID, "/publications", nil, body, nil)
}

// GetProfile fetches the user's level and experience.
func (c *Client) GetProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	var p core.UserProfile
	if err := c.userCall(ctx, http.MethodGet, userID, "/profile", nil, nil, &p); err != nil {
		return core.UserProfile{}, err
	}
	return p, nil
}

// GetRanking returns the user's record in the partition with nearby records.
func (c *Client) GetRanking(ctx context.Context, userID string, p Partition) (Ranking, error) {
	var r Ranking
	if err := c.userCall(ctx, http.MethodGet, userID, "/ranking", p.query(), nil, &r); err != nil {
		return Ranking{}, err
	}
	return r, nil
}

// GetNeighbors returns up to radius records on each side of the user.
func (c *Client) GetNeighbors(ctx context.Context, userID string, p Partition, radius int) ([]core.RankingRecord, error) {
	q := p.query()
	if radius > 0 {
		q.Set("radius", strconv.Itoa(radius))
	}
	var body struct {
		Records []core.RankingRecord `json:"records"`
	}
	if err := c.userCall(ctx, http.MethodGet, userID, "/neighbors", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Records, nil
}

// GetHistory returns at most limit recent awards; limit 0 uses the server default.
func (c *Client) GetHistory(ctx context.Context, userID string, p Partition, limit int) (History, error) {
	q := p.query()
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var h History
	if err := c.userCall(ctx, http.MethodGet, userID, "/history", q, nil, &h); err != nil {
		return History{}, err
	}
	return h, nil
}

// Leaderboard fetches one page. page starts at 1; pageSize 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, p Partition, page, pageSize int) (Page, error) {
	q := p.query()
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out Page
	if err := c.call(ctx, http.MethodGet, "/leaderboard", q, nil, nil, &out); err != nil {
		return Page{}, err
	}
	return out, nil
}

// Stats returns aggregate statistics for the partition.
func (c *Client) Stats(ctx context.Context, p Partition) (Stats, error) {
	var st Stats
	if err := c.call(ctx, http.MethodGet, "/stats", p.query(), nil, nil, &st); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Recalculate reassigns positions in the partition and reports how many changed.
// It requires WithAdminKey.
func (c *Client) Recalculate(ctx context.Context, p Partition) (int, error) {
	var body struct {
		Touched int `json:"touched"`
	}
	hdr := http.Header{}
	hdr.Set(AdminKeyHeader, c.adminKey)
	if err := c.call(ctx, http.MethodPost, "/admin/rankings/recalculate", p.query(), hdr, nil, &body); err != nil {
		return 0, err
	}
	return body.Touched, nil
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	if err := c.call(ctx, http.MethodGet, "/healthz", nil, nil, nil, &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// userID and types narrow the stream server side; both may be empty.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if userID != "" {
		q.Set("user_id", userID)
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q.Set("types", strings.Join(names, ","))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (p Partition) query() url.Values {
	q := url.Values{}
	if p.Period != "" {
		q.Set("period", string(p.Period))
	}
	if p.Category != "" {
		q.Set("category", p.Category)
	}
	return q
}

func (c *Client) userCall(ctx context.Context, method, userID, suffix string, q url.Values, in, out any) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return c.call(ctx, method, "/users/"+url.PathEscape(userID)+suffix, q, nil, in, out)
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, hdr http.Header, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
