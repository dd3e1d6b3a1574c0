package aggregator

import (
	"sort"
	"strings"

	"github.com/logmesh/logmesh/internal/model"
)

// assemble applies filter → sort → group → paginate to the merged entries.
// Pagination always cuts the flat filtered sequence, never per-group.
func assemble(all []model.TaggedEntry, query model.AggregationQuery) model.AggregationResult {
	res := model.AggregationResult{TotalBeforeFilter: len(all)}

	filtered := filterLevels(all, query.LevelSet())
	res.TotalAfterFilter = len(filtered)

	sortEntries(filtered, query.SortBy, query.SortOrder)

	if query.GroupBy != "" {
		res.Groups = groupEntries(filtered, query.GroupBy)
	}

	page, hasMore := paginate(filtered, query.Offset, query.Limit)
	res.Entries = page
	res.Pagination = model.Pagination{
		Total:   res.TotalAfterFilter,
		Limit:   query.Limit,
		Offset:  query.Offset,
		HasMore: hasMore,
	}
	return res
}

func filterLevels(entries []model.TaggedEntry, want map[model.Level]bool) []model.TaggedEntry {
	if want == nil {
		out := make([]model.TaggedEntry, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]model.TaggedEntry, 0, len(entries))
	for _, e := range entries {
		if want[e.Level] {
			out = append(out, e)
		}
	}
	return out
}

// sortEntries sorts stably by the requested key. Ties always break by file
// modification time descending, then original line index ascending.
func sortEntries(entries []model.TaggedEntry, sortBy, order string) {
	desc := order != model.OrderAsc

	less := func(a, b model.TaggedEntry) int {
		switch sortBy {
		case model.SortByUser:
			return strings.Compare(a.UserID, b.UserID)
		case model.SortByAlias:
			return strings.Compare(a.AliasName, b.AliasName)
		case model.SortBySeverity:
			return a.SeverityRank() - b.SeverityRank()
		case model.SortByFile:
			return strings.Compare(a.FileName, b.FileName)
		default: // timestamp, with file mtime fallback for nil timestamps
			at, bt := a.EffectiveTime(), b.EffectiveTime()
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		c := less(entries[i], entries[j])
		if c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		// Tie-break: newer file first, then original line order.
		a, b := entries[i], entries[j]
		if !a.FileModifiedAt.Equal(b.FileModifiedAt) {
			return a.FileModifiedAt.After(b.FileModifiedAt)
		}
		return a.LineNumber < b.LineNumber
	})
}

// groupEntries partitions the filtered, sorted sequence into buckets with
// error/warning sub-counts.
func groupEntries(entries []model.TaggedEntry, groupBy string) map[string]model.Group {
	groups := make(map[string]model.Group)
	for _, e := range entries {
		key := groupKey(e, groupBy)
		g := groups[key]
		g.Key = key
		g.Entries = append(g.Entries, e)
		switch {
		case e.Level >= model.LevelError:
			g.ErrorCount++
		case e.Level == model.LevelWarning:
			g.WarningCount++
		}
		groups[key] = g
	}
	return groups
}

func groupKey(e model.TaggedEntry, groupBy string) string {
	switch groupBy {
	case model.GroupByUser:
		return e.UserID
	case model.GroupByAlias:
		return e.AliasName
	case model.GroupByLevel:
		return e.Level.String()
	case model.GroupByFile:
		return e.FileName
	case model.GroupByHour:
		return e.EffectiveTime().Format("2006-01-02 15:00")
	case model.GroupByDate:
		return e.EffectiveTime().Format("2006-01-02")
	default:
		return ""
	}
}

// paginate cuts [offset, offset+limit) out of the flat sequence.
func paginate(entries []model.TaggedEntry, offset, limit int) ([]model.TaggedEntry, bool) {
	if offset >= len(entries) {
		return []model.TaggedEntry{}, false
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	page := make([]model.TaggedEntry, end-offset)
	copy(page, entries[offset:end])
	return page, end < len(entries)
}
