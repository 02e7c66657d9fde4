package engine

import (
	"cmp"
	"context"
	"slices"
	"time"

	"rankkit/core"
	"rankkit/leaderboard"
)

// Leader names the user holding a partition-wide maximum.
type Leader struct {
	UserID core.UserID `json:"user_id"`
	Value  int64       `json:"value"`
}

// LanguageCount is one bucket of the language popularity histogram.
type LanguageCount struct {
	Language  string `json:"language"`
	UserCount int    `json:"user_count"`
}

// PartitionStats are read-only aggregates over one partition.
type PartitionStats struct {
	Period             core.Period     `json:"period"`
	Category           string          `json:"category,omitempty"`
	Count              int             `json:"count"`
	MeanPointsTotal    float64         `json:"mean_points_total"`
	TopScorer          *Leader         `json:"top_scorer,omitempty"`
	MostCompletions    *Leader         `json:"most_completions,omitempty"`
	LanguagePopularity []LanguageCount `json:"language_popularity"`
}

// DefaultLanguageLimit caps the language popularity histogram.
const DefaultLanguageLimit = 10

type StatsAggregator struct {
	store RankingStore
	// languageLimit caps LanguagePopularity; <= 0 means unbounded.
	languageLimit int
	now           func() time.Time
}

func NewStatsAggregator(store RankingStore) *StatsAggregator {
	return &StatsAggregator{store: store, languageLimit: DefaultLanguageLimit, now: time.Now}
}

// WithLanguageLimit sets how many languages the histogram keeps.
func (s *StatsAggregator) WithLanguageLimit(n int) *StatsAggregator {
	s.languageLimit = n
	return s
}

// Aggregate computes the partition's statistics. An empty partition yields
// zero values, not an error.
func (s *StatsAggregator) Aggregate(ctx context.Context, period core.Period, category string) (PartitionStats, error) {
	p, err := core.NewPartition(period, category)
	if err != nil {
		return PartitionStats{}, err
	}
	out := PartitionStats{Period: p.Period, Category: p.Category, LanguagePopularity: []LanguageCount{}}
	// ranking order makes the top scorer tie-break match the leaderboard
	records, err := rankedSnapshot(ctx, s.store, p)
	if err != nil {
		return out, err
	}
	if len(records) == 0 {
		return out, nil
	}
	// records from an ended window count as empty until the next
	// recalculation persists the reset
	rolled := false
	now := s.now()
	for i := range records {
		if core.RollOver(&records[i], now) {
			rolled = true
		}
	}
	if rolled {
		leaderboard.SortRecords(records)
	}

	var sum float64
	langs := map[string]int{}
	var most *Leader
	for _, r := range records {
		sum += float64(r.PointsTotal)
		if most == nil || r.Statistics.Completions > most.Value {
			most = &Leader{UserID: r.UserID, Value: r.Statistics.Completions}
		}
		for _, l := range r.Statistics.MasteredLanguages {
			langs[l]++
		}
	}
	out.Count = len(records)
	out.MeanPointsTotal = sum / float64(len(records))
	out.TopScorer = &Leader{UserID: records[0].UserID, Value: records[0].PointsTotal}
	out.MostCompletions = most
	for l, n := range langs {
		out.LanguagePopularity = append(out.LanguagePopularity, LanguageCount{Language: l, UserCount: n})
	}
	slices.SortFunc(out.LanguagePopularity, func(a, b LanguageCount) int {
		if c := cmp.Compare(b.UserCount, a.UserCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Language, b.Language)
	})
	if s.languageLimit > 0 && len(out.LanguagePopularity) > s.languageLimit {
		out.LanguagePopularity = out.LanguagePopularity[:s.languageLimit]
	}
	return out, nil
}
