package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"rankkit/core"
)

const (
	DefaultPageSize   = 20
	DefaultMaxPage    = 100
	DefaultHistoryLen = 50
)

// CompletionResult is what a caller learns about an awarded completion.
type CompletionResult struct {
	PointsAwarded      int64              `json:"points_awarded"`
	NewExperience      int64              `json:"new_experience"`
	NewLevel           int64              `json:"new_level"`
	NextLevelThreshold int64              `json:"next_level_threshold"`
	Achievements       []core.Achievement `json:"achievements"`
}

// Page is one page of a partition ordered by persisted position.
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

// History is a user's recent awards within one partition.
type History struct {
	UserID       core.UserID         `json:"user_id"`
	Period       core.Period         `json:"period"`
	Category     string              `json:"category,omitempty"`
	Position     int                 `json:"position"`
	// LivePosition is the rank by current points when the store tracks it;
	// Position only moves on recalculation.
	LivePosition int                 `json:"live_position,omitempty"`
	PointsTotal  int64               `json:"points_total"`
	Level        int64               `json:"level"`
	Statistics   core.Statistics     `json:"statistics"`
	Achievements []core.Achievement  `json:"achievements"`
	Entries      []core.HistoryEntry `json:"entries"`
}

// RankingService wires storage, achievements, recalculation and queries
// into the operations exposed to the surrounding layer.
type RankingService struct {
	store        Store
	pub          Publisher
	auth         Authorizer
	guard        *CompletionGuard
	achievements *AchievementEngine
	recalc       *Recalculator
	window       *WindowQuery
	stats        *StatsAggregator
	log          *slog.Logger

	curve       core.LevelCurve
	mastery     int
	rules       []core.AchievementRule
	pageSize    int
	maxPageSize int
	maxRadius   int
	langLimit   int
	observer    RecalcObserver
	now         func() time.Time
}

type Option func(*RankingService)

func WithPublisher(p Publisher) Option        { return func(s *RankingService) { s.pub = p } }
func WithAuthorizer(a Authorizer) Option      { return func(s *RankingService) { s.auth = a } }
func WithLogger(l *slog.Logger) Option        { return func(s *RankingService) { s.log = l } }
func WithLevelCurve(c core.LevelCurve) Option { return func(s *RankingService) { s.curve = c } }
func WithMasteryScore(score int) Option       { return func(s *RankingService) { s.mastery = score } }
func WithMaxRadius(r int) Option              { return func(s *RankingService) { s.maxRadius = r } }
func WithLanguageLimit(n int) Option          { return func(s *RankingService) { s.langLimit = n } }
func WithRecalcObserver(o RecalcObserver) Option {
	return func(s *RankingService) { s.observer = o }
}

// WithRules replaces the default achievement catalog.
func WithRules(rules ...core.AchievementRule) Option {
	return func(s *RankingService) { s.rules = rules }
}

// WithPageSizes sets the default and maximum leaderboard page sizes.
func WithPageSizes(def, max int) Option {
	return func(s *RankingService) {
		if def > 0 {
			s.pageSize = def
		}
		if max > 0 {
			s.maxPageSize = max
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *RankingService) { s.now = now } }

func NewRankingService(store Store, opts ...Option) *RankingService {
	if store == nil {
		panic("NewRankingService requires a non-nil store")
	}
	s := &RankingService{
		store:       store,
		curve:       core.DefaultCurve(),
		mastery:     core.DefaultMasteryScore,
		rules:       core.DefaultAchievementRules(),
		pageSize:    DefaultPageSize,
		maxPageSize: DefaultMaxPage,
		langLimit:   DefaultLanguageLimit,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.auth == nil {
		s.auth = denyAll
	}
	if s.pageSize > s.maxPageSize {
		s.pageSize = s.maxPageSize
	}
	s.guard = NewCompletionGuard(store)
	s.guard.now = s.now
	s.achievements = NewAchievementEngine(store, s.log, s.rules...)
	s.achievements.now = s.now
	s.recalc = NewRecalculator(store, s.pub, s.log).WithObserver(s.observer)
	s.recalc.now = s.now
	s.window = NewWindowQuery(store, s.maxRadius)
	s.stats = NewStatsAggregator(store).WithLanguageLimit(s.langLimit)
	s.stats.now = s.now
	return s
}

func (s *RankingService) Recalculator() *Recalculator { return s.recalc }

func (s *RankingService) Achievements() *AchievementEngine { return s.achievements }

func (s *RankingService) publish(ctx context.Context, ev core.Event) {
	if s.pub != nil {
		s.pub.Publish(ctx, ev)
	}
}

// RegisterUser creates the user's profile and an aggregate ranking record for
// every period. Calling it again is harmless.
func (s *RankingService) RegisterUser(ctx context.Context, user core.UserID) (core.UserProfile, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserProfile{}, err
	}
	profile, err := s.store.UpdateProfile(ctx, user, func(*core.UserProfile) error { return nil })
	if err != nil {
		return core.UserProfile{}, err
	}
	for _, period := range core.Periods {
		if _, err := s.store.EnsureRecord(ctx, core.RecordKey{UserID: user, Partition: core.Partition{Period: period}}); err != nil {
			return core.UserProfile{}, err
		}
	}
	return profile, nil
}

// CompleteActivity awards points for a first completion of an activity.
//
// A repeated completion returns core.ErrAlreadyCompleted without awarding
// anything. Before returning it re-applies the original award to the profile
// and ranking records, which are idempotent by activity id, so a previous
// attempt that failed halfway is repaired.
func (s *RankingService) CompleteActivity(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	req, err := req.Normalize()
	if err != nil {
		return CompletionResult{}, err
	}
	points, err := core.PointsForScore(req.Score, req.TotalPoints)
	if err != nil {
		return CompletionResult{}, err
	}
	completion, err := s.guard.Register(ctx, req, points)
	if err != nil {
		var dup *core.AlreadyCompletedError
		if errors.As(err, &dup) {
			if _, rerr := s.apply(ctx, dup.Existing); rerr != nil {
				s.log.Warn("repair of completed activity failed", "user_id", req.UserID, "activity_id", req.ActivityID, "error", rerr)
			}
		}
		return CompletionResult{}, err
	}
	res, err := s.apply(ctx, completion)
	if err != nil {
		s.log.Error("apply completion", "user_id", completion.UserID, "activity_id", completion.ActivityID, "error", err)
		return CompletionResult{}, err
	}
	return res, nil
}

// apply performs the downstream writes of a registered completion. Every
// write is keyed by activity id, so running it twice changes nothing.
func (s *RankingService) apply(ctx context.Context, c core.CompletionRecord) (CompletionResult, error) {
	var (
		ledger    core.LedgerResult
		applied   bool
		prevLevel int64
	)
	profile, err := s.store.UpdateProfile(ctx, c.UserID, func(p *core.UserProfile) error {
		prevLevel = p.Level
		var err error
		ledger, applied, err = core.ApplyToProfile(p, c, s.curve)
		return err
	})
	if err != nil {
		return CompletionResult{}, err
	}

	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range core.PartitionsFor(c.Category) {
		key := core.RecordKey{UserID: c.UserID, Partition: p}
		g.Go(func() error {
			_, err := s.store.UpdateRecord(gctx, key, func(r *core.RankingRecord) error {
				core.ApplyCompletion(r, c, profile.Level, s.mastery, now)
				return nil
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return CompletionResult{}, err
	}

	completed := core.NewActivityCompleted(c.UserID, c.ActivityID, c.PointsAwarded, profile.Experience)
	aggregate := core.RecordKey{UserID: c.UserID, Partition: core.Partition{Period: core.PeriodAllTime}}
	unlocked, rec, err := s.achievements.Evaluate(ctx, aggregate, profile, completed)
	if err != nil {
		return CompletionResult{}, err
	}

	if applied {
		s.log.Info("activity completed", "user_id", c.UserID, "activity_id", c.ActivityID, "points", c.PointsAwarded, "level", ledger.NewLevel)
		s.publish(ctx, completed)
		if ledger.NewLevel > prevLevel {
			s.publish(ctx, core.NewLevelUp(c.UserID, ledger.NewLevel))
		}
	}
	for _, a := range unlocked {
		s.publish(ctx, core.NewAchievementUnlocked(c.UserID, aggregate.Partition, a, rec.PointsTotal))
	}
	if unlocked == nil {
		unlocked = []core.Achievement{}
	}
	return CompletionResult{
		PointsAwarded:      c.PointsAwarded,
		NewExperience:      profile.Experience,
		NewLevel:           profile.Level,
		NextLevelThreshold: profile.ExperienceToNextLevel,
		Achievements:       unlocked,
	}, nil
}

// RecordPublication counts a published activity on the author's aggregate
// and category records. rating, when set, feeds the average rating.
func (s *RankingService) RecordPublication(ctx context.Context, user core.UserID, category string, rating *float64) error {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return err
	}
	if rating != nil && (*rating < 0 || *rating > core.MaxRating) {
		return core.NewInputError("rating", "must be between 0 and 5")
	}
	now := s.now()
	for _, p := range core.PartitionsFor(category) {
		key := core.RecordKey{UserID: user, Partition: p}
		if _, err := s.store.UpdateRecord(ctx, key, func(r *core.RankingRecord) error {
			return core.ApplyPublication(r, rating, now)
		}); err != nil {
			return err
		}
	}
	s.publish(ctx, core.NewPublicationRecorded(user, category))
	return nil
}

// GetLeaderboard returns one page of the partition ordered by the last
// persisted positions. page starts at 1; pageSize 0 selects the default.
func (s *RankingService) GetLeaderboard(ctx context.Context, period core.Period, category string, page, pageSize int) (Page, error) {
	p, err := core.NewPartition(period, category)
	if err != nil {
		return Page{}, err
	}
	if page < 1 {
		return Page{}, core.NewInputError("page", "must be at least 1")
	}
	switch {
	case pageSize < 0:
		return Page{}, core.NewInputError("page_size", "must be non-negative")
	case pageSize == 0:
		pageSize = s.pageSize
	case pageSize > s.maxPageSize:
		pageSize = s.maxPageSize
	}
	total, err := s.store.CountPartition(ctx, p)
	if err != nil {
		return Page{}, err
	}
	from := (page-1)*pageSize + 1
	records := []core.RankingRecord{}
	if from <= total {
		records, err = s.store.RangeByPosition(ctx, p, from, from+pageSize-1)
		if err != nil {
			return Page{}, err
		}
		if len(records) > pageSize {
			records = records[:pageSize]
		}
	}
	pages := (total + pageSize - 1) / pageSize
	return Page{
		Period:     p.Period,
		Category:   p.Category,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
		Records:    records,
	}, nil
}

// GetNeighbors returns the records around the user's persisted position.
func (s *RankingService) GetNeighbors(ctx context.Context, user core.UserID, period core.Period, category string, radius int) ([]core.RankingRecord, error) {
	return s.window.Neighbors(ctx, user, period, category, radius)
}

// RecalculateRankings recomputes positions of one partition and returns how
// many records changed position. It requires an administrative capability.
func (s *RankingService) RecalculateRankings(ctx context.Context, capability Capability, period core.Period, category string) (int, error) {
	if err := s.auth.Authorize(ctx, capability); err != nil {
		s.log.Warn("recalculation refused", "period", period, "category", category)
		return 0, err
	}
	_, touched, err := s.recalc.Recalculate(ctx, period, category)
	return touched, err
}

// GetStatistics aggregates the partition.
func (s *RankingService) GetStatistics(ctx context.Context, period core.Period, category string) (PartitionStats, error) {
	return s.stats.Aggregate(ctx, period, category)
}

func (s *RankingService) GetProfile(ctx context.Context, user core.UserID) (core.UserProfile, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserProfile{}, err
	}
	return s.store.GetProfile(ctx, user)
}

// GetRecord returns the user's record in a partition or core.ErrNotRanked.
func (s *RankingService) GetRecord(ctx context.Context, user core.UserID, period core.Period, category string) (core.RankingRecord, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.RankingRecord{}, err
	}
	p, err := core.NewPartition(period, category)
	if err != nil {
		return core.RankingRecord{}, err
	}
	return s.store.GetRecord(ctx, core.RecordKey{UserID: user, Partition: p})
}

// GetHistory returns up to limit of the most recent history entries, newest
// first. limit <= 0 selects DefaultHistoryLen.
func (s *RankingService) GetHistory(ctx context.Context, user core.UserID, period core.Period, category string, limit int) (History, error) {
	rec, err := s.GetRecord(ctx, user, period, category)
	if err != nil {
		return History{}, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLen
	}
	entries := slices.Clone(rec.History)
	slices.SortStableFunc(entries, func(a, b core.HistoryEntry) int { return b.Timestamp.Compare(a.Timestamp) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	live := 0
	if lr, ok := s.store.(LiveRanker); ok {
		if live, err = lr.LiveRank(ctx, rec.Key()); err != nil {
			s.log.Warn("live rank unavailable", "user_id", rec.UserID, "error", err)
			live = 0
		}
	}
	return History{
		UserID:       rec.UserID,
		Period:       rec.Period,
		Category:     rec.Category,
		Position:     rec.Position,
		LivePosition: live,
		PointsTotal:  rec.PointsTotal,
		Level:        rec.Level,
		Statistics:   rec.Statistics,
		Achievements: rec.Achievements,
		Entries:      entries,
	}, nil
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
func (s *RankingService) Health(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.store.CountPartition(ctx, core.Partition{Period: core.PeriodAllTime})
	return err
}
