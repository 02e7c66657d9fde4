package core

import (
	"fmt"
	"strings"
	"time"
)

// Period selects the time window a ranking partition covers.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodAllTime Period = "all-time"
)

// Periods lists every supported period, shortest window first.
var Periods = []Period{PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodAllTime}

// ParsePeriod accepts a period name; empty means all-time.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all-time", "alltime", "all_time", "all":
		return PeriodAllTime, nil
	case "weekly", "week":
		return PeriodWeekly, nil
	case "monthly", "month":
		return PeriodMonthly, nil
	case "yearly", "year":
		return PeriodYearly, nil
	}
	return "", NewInputError("period", fmt.Sprintf("unknown period %q", s))
}

// Valid reports whether p is one of the supported periods.
func (p Period) Valid() bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodAllTime:
		return true
	}
	return false
}

// WindowStart returns the UTC start of the window containing t.
// Weekly windows start on ISO Monday; all-time has the zero time.
func (p Period) WindowStart(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYearly:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// Partition is the (period, category) key records are ranked within.
// An empty Category is the aggregate across categories.
type Partition struct {
	Period   Period `json:"period"`
	Category string `json:"category,omitempty"`
}

// NewPartition validates and normalizes a partition key.
func NewPartition(period Period, category string) (Partition, error) {
	if !period.Valid() {
		return Partition{}, NewInputError("period", fmt.Sprintf("unknown period %q", period))
	}
	return Partition{Period: period, Category: strings.ToLower(strings.TrimSpace(category))}, nil
}

// Key renders the partition as a storage key segment.
func (p Partition) Key() string {
	if p.Category == "" {
		return string(p.Period) + ":*"
	}
	return string(p.Period) + ":" + p.Category
}

func (p Partition) String() string { return p.Key() }

// RecordKey addresses a single ranking record.
type RecordKey struct {
	UserID    UserID
	Partition Partition
}

// PartitionsFor returns every partition a completion in category touches:
// the aggregate and, when set, the category partition, for each period.
func PartitionsFor(category string) []Partition {
	category = strings.ToLower(strings.TrimSpace(category))
	out := make([]Partition, 0, 2*len(Periods))
	for _, p := range Periods {
		out = append(out, Partition{Period: p})
		if category != "" {
			out = append(out, Partition{Period: p, Category: category})
		}
	}
	return out
}
