package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sort keys accepted by AggregationQuery.SortBy.
const (
	SortByTimestamp = "timestamp"
	SortByUser      = "user"
	SortByAlias     = "alias"
	SortBySeverity  = "severity"
	SortByFile      = "file"
)

// Group keys accepted by AggregationQuery.GroupBy.
const (
	GroupByUser  = "user"
	GroupByAlias = "alias"
	GroupByLevel = "level"
	GroupByFile  = "file"
	GroupByHour  = "hour"
	GroupByDate  = "date"
)

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// AggregationQuery is the full filter/sort/group/paginate parameter set for
// one retrieval request.
type AggregationQuery struct {
	UserIDs    []string `json:"userIds,omitempty"`
	AliasNames []string `json:"aliasNames,omitempty"`
	LogLevels  []Level  `json:"logLevels,omitempty"`
	Date       string   `json:"date,omitempty"` // YYYY-MM-DD, empty = today
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
	GroupBy    string   `json:"groupBy,omitempty"`
	SortBy     string   `json:"sortBy,omitempty"`
	SortOrder  string   `json:"sortOrder,omitempty"`
	UseCache   bool     `json:"enableCache,omitempty"`
}

// Validate reports whether the query's enumerated fields hold known values.
func (q AggregationQuery) Validate() error {
	switch q.SortBy {
	case "", SortByTimestamp, SortByUser, SortByAlias, SortBySeverity, SortByFile:
	default:
		return fmt.Errorf("unknown sortBy %q", q.SortBy)
	}
	switch q.GroupBy {
	case "", GroupByUser, GroupByAlias, GroupByLevel, GroupByFile, GroupByHour, GroupByDate:
	default:
		return fmt.Errorf("unknown groupBy %q", q.GroupBy)
	}
	switch q.SortOrder {
	case "", OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("unknown sortOrder %q", q.SortOrder)
	}
	if q.Date != "" {
		if _, err := time.ParseInLocation("2006-01-02", q.Date, time.Local); err != nil {
			return fmt.Errorf("invalid date %q: %w", q.Date, err)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("limit and offset must be non-negative")
	}
	return nil
}

// DefaultLimit is applied when a query asks for no explicit page size.
const DefaultLimit = 100

// Normalized returns a copy of the query with defaults applied: limit 100,
// sort by timestamp descending. Canonical keys are computed on normalized
// queries so defaulted and explicit forms hit the same cache entry.
func (q AggregationQuery) Normalized() AggregationQuery {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = SortByTimestamp
	}
	if q.SortOrder == "" {
		q.SortOrder = OrderDesc
	}
	return q
}

// TargetDate resolves the query date, defaulting to the current local
// calendar date.
func (q AggregationQuery) TargetDate() time.Time {
	if q.Date != "" {
		if t, err := time.ParseInLocation("2006-01-02", q.Date, time.Local); err == nil {
			return t
		}
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
}

// CanonicalKey serializes the query into a cache key. Two queries that differ
// only in list order or identifier casing canonicalize identically: id lists
// are lowercased and sorted, the date and level set are defaulted, and the
// fields are joined with a fixed delimiter.
func (q AggregationQuery) CanonicalKey() string {
	users := lowerSorted(q.UserIDs)
	aliases := lowerSorted(q.AliasNames)

	levels := q.LogLevels
	if len(levels) == 0 {
		levels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}
	}
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.String()
	}
	sort.Strings(names)

	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = SortByTimestamp
	}
	order := q.SortOrder
	if order == "" {
		order = OrderDesc
	}

	parts := []string{
		"users=" + strings.Join(users, ","),
		"aliases=" + strings.Join(aliases, ","),
		"date=" + q.TargetDate().Format("2006-01-02"),
		"levels=" + strings.Join(names, ","),
		"limit=" + fmt.Sprint(q.Limit),
		"offset=" + fmt.Sprint(q.Offset),
		"group=" + q.GroupBy,
		"sort=" + sortBy,
		"order=" + order,
	}
	return strings.Join(parts, "|")
}

// LevelSet returns the requested levels as a set; empty means no filtering.
func (q AggregationQuery) LevelSet() map[Level]bool {
	if len(q.LogLevels) == 0 {
		return nil
	}
	set := make(map[Level]bool, len(q.LogLevels))
	for _, l := range q.LogLevels {
		set[l] = true
	}
	return set
}

func lowerSorted(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(out)
	return out
}
