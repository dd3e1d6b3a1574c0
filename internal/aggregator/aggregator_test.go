package aggregator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/logmesh/logmesh/internal/cache"
	"github.com/logmesh/logmesh/internal/classifier"
	"github.com/logmesh/logmesh/internal/discovery"
	"github.com/logmesh/logmesh/internal/model"
	"github.com/logmesh/logmesh/internal/parser"
	"github.com/logmesh/logmesh/internal/registry"
)

// fakeRegistry is an in-memory AliasRegistry for tests.
type fakeRegistry struct {
	aliases map[string][]registry.Descriptor
}

func (f *fakeRegistry) Users() []string {
	users := make([]string, 0, len(f.aliases))
	for u := range f.aliases {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (f *fakeRegistry) AliasesForUser(userID string) []registry.Descriptor {
	return f.aliases[userID]
}

func (f *fakeRegistry) Alias(userID, name string) (registry.Descriptor, bool) {
	for _, d := range f.aliases[userID] {
		if d.AliasName == name {
			return d, true
		}
	}
	return registry.Descriptor{}, false
}

var testDate = time.Date(2025, 9, 1, 0, 0, 0, 0, time.Local)

// writeLog drops a log file into dir with its mtime on the test date.
func writeLog(t *testing.T, dir, name, content string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func newTestAggregator(reg registry.AliasRegistry, rc *cache.ResultCache) *Aggregator {
	return New(reg, discovery.New(nil), parser.New(), classifier.New(nil), rc, Options{}, nil)
}

func singleAliasFixture(t *testing.T, content string) *fakeRegistry {
	t.Helper()
	dir := t.TempDir()
	writeLog(t, dir, "app.log", content, testDate.Add(10*time.Hour))
	return &fakeRegistry{aliases: map[string][]registry.Descriptor{
		"alice": {{UserID: "alice", AliasName: "MyLogs", BasePath: dir}},
	}}
}

func TestScenarioErrorFilter(t *testing.T) {
	reg := singleAliasFixture(t,
		"[2025-09-01 10:00:00] ERROR database connection failed\n"+
			"[2025-09-01 10:00:05] INFO started worker\n")
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		AliasNames: []string{"MyLogs"},
		Date:       "2025-09-01",
		LogLevels:  []model.Level{model.LevelError},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Entries) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d", len(res.Entries))
	}
	e := res.Entries[0]
	if e.Level != model.LevelError {
		t.Errorf("expected ERROR, got %s", e.Level)
	}
	if e.Category != "Database Issues" {
		t.Errorf("expected category 'Database Issues', got %q", e.Category)
	}
	if e.UserID != "alice" || e.AliasName != "MyLogs" || e.FileName != "app.log" {
		t.Errorf("unexpected tagging: %+v", e)
	}
	if res.TotalBeforeFilter != 2 || res.TotalAfterFilter != 1 {
		t.Errorf("expected totals 2/1, got %d/%d", res.TotalBeforeFilter, res.TotalAfterFilter)
	}
}

func TestPaginationLaw(t *testing.T) {
	content := ""
	for i := 0; i < 10; i++ {
		content += "[2025-09-01 10:00:0" + string(rune('0'+i)) + "] INFO tick\n"
	}
	reg := singleAliasFixture(t, content)
	agg := newTestAggregator(reg, nil)

	seen := make(map[string]bool)
	for offset := 0; ; offset += 3 {
		res, err := agg.Aggregate(context.Background(), model.AggregationQuery{
			Date:   "2025-09-01",
			Limit:  3,
			Offset: offset,
			SortBy: model.SortByTimestamp,
		})
		if err != nil {
			t.Fatal(err)
		}

		want := res.TotalAfterFilter - offset
		if want < 0 {
			want = 0
		}
		if want > 3 {
			want = 3
		}
		if len(res.Entries) != want {
			t.Fatalf("offset %d: expected %d entries, got %d", offset, want, len(res.Entries))
		}
		for _, e := range res.Entries {
			if seen[e.ID] {
				t.Errorf("entry %s returned twice across pages", e.ID)
			}
			seen[e.ID] = true
		}
		if !res.Pagination.HasMore {
			break
		}
	}
	if len(seen) != 10 {
		t.Errorf("pages should cover the filtered set exactly once, saw %d of 10", len(seen))
	}
}

func TestSortBySeverityDesc(t *testing.T) {
	reg := singleAliasFixture(t,
		"[2025-09-01 09:00:00] INFO fine\n"+
			"[2025-09-01 09:00:01] FATAL crash imminent\n"+
			"[2025-09-01 09:00:02] WARNING odd\n")
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		Date:      "2025-09-01",
		SortBy:    model.SortBySeverity,
		SortOrder: model.OrderDesc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Level != model.LevelCritical || res.Entries[2].Level != model.LevelInfo {
		t.Errorf("unexpected severity order: %s, %s, %s",
			res.Entries[0].Level, res.Entries[1].Level, res.Entries[2].Level)
	}
}

func TestGroupByLevel(t *testing.T) {
	reg := singleAliasFixture(t,
		"[2025-09-01 09:00:00] ERROR one\n"+
			"[2025-09-01 09:00:01] ERROR two\n"+
			"[2025-09-01 09:00:02] WARNING three\n")
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		Date:    "2025-09-01",
		GroupBy: model.GroupByLevel,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(res.Groups))
	}
	if g := res.Groups["ERROR"]; len(g.Entries) != 2 || g.ErrorCount != 2 {
		t.Errorf("unexpected ERROR group: %d entries, %d errors", len(g.Entries), g.ErrorCount)
	}
	if g := res.Groups["WARNING"]; g.WarningCount != 1 {
		t.Errorf("unexpected WARNING group: %d warnings", g.WarningCount)
	}
}

func TestPartialFailureToleratesBadAlias(t *testing.T) {
	goodDir := t.TempDir()
	writeLog(t, goodDir, "ok.log", "[2025-09-01 08:00:00] INFO alive\n", testDate.Add(8*time.Hour))

	reg := &fakeRegistry{aliases: map[string][]registry.Descriptor{
		"alice": {
			{UserID: "alice", AliasName: "Good", BasePath: goodDir},
			{UserID: "alice", AliasName: "Gone", BasePath: filepath.Join(goodDir, "missing")},
		},
	}}
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{Date: "2025-09-01"})
	if err != nil {
		t.Fatalf("partial failure must not abort the call: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Errorf("expected the good alias's entry, got %d", len(res.Entries))
	}
	if len(res.Metadata.Failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(res.Metadata.Failures))
	}
	if res.Metadata.Failures[0].AliasName != "Gone" {
		t.Errorf("unexpected failure: %+v", res.Metadata.Failures[0])
	}
}

func TestUnreadableFileSurfacedInMetadata(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "good.log"), []byte("INFO alive\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// A dangling symlink is listed by discovery but fails to read.
	if err := os.Symlink(filepath.Join(dir, "missing-target"), filepath.Join(dir, "broken.log")); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistry{aliases: map[string][]registry.Descriptor{
		"alice": {{UserID: "alice", AliasName: "MyLogs", BasePath: dir}},
	}}
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{})
	if err != nil {
		t.Fatalf("per-file failure must not abort the call: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].FileName != "good.log" {
		t.Errorf("expected the readable file's entry, got %+v", res.Entries)
	}
	if len(res.Metadata.Failures) != 1 {
		t.Fatalf("expected the unreadable file in metadata failures, got %d", len(res.Metadata.Failures))
	}
	f := res.Metadata.Failures[0]
	if f.Path != filepath.Join(dir, "broken.log") || f.Reason == "" {
		t.Errorf("unexpected failure record: %+v", f)
	}
	if res.Metadata.ProcessedUsers != 1 {
		t.Errorf("a per-file failure must not unprocess the user, got %d", res.Metadata.ProcessedUsers)
	}
}

func TestUserResolutionCaseInsensitive(t *testing.T) {
	reg := singleAliasFixture(t, "[2025-09-01 10:00:00] ERROR boom\n")
	rc := cache.New(time.Minute)
	agg := newTestAggregator(reg, rc)

	first, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		UserIDs:  []string{"Alice"},
		Date:     "2025-09-01",
		UseCache: true,
	})
	if err != nil {
		t.Fatalf("mixed-case user ID must resolve: %v", err)
	}
	if len(first.Entries) != 1 {
		t.Fatalf("expected 1 entry for mixed-case user, got %d", len(first.Entries))
	}

	// The canonical key lowercases user IDs; a re-cased query must both
	// share the cache entry and resolve to the same result.
	second, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		UserIDs:  []string{"ALICE"},
		Date:     "2025-09-01",
		UseCache: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Error("re-cased user ID must hit the same cache entry")
	}
	if len(second.Entries) != len(first.Entries) {
		t.Errorf("resolution must agree with the canonical key: %d vs %d entries",
			len(second.Entries), len(first.Entries))
	}
}

func TestReprocessClassifiesAndInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	content := "[2025-09-01 10:00:00] FATAL database deadlock detected\n" +
		"[2025-09-01 10:00:01] INFO recovered\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rc := cache.New(time.Minute)
	rc.Set("stale", model.AggregationResult{})

	rp := NewReprocessor(parser.New(), classifier.New(nil), rc, nil)
	report, err := rp.Reprocess(context.Background(), "alice", "MyLogs", path)
	if err != nil {
		t.Fatal(err)
	}

	if report.EntryCount != 2 {
		t.Errorf("expected 2 entries, got %d", report.EntryCount)
	}
	if !report.HasCritical() {
		t.Error("a FATAL line must flag the report critical")
	}
	if report.Levels["CRITICAL"] != 1 || report.Levels["INFO"] != 1 {
		t.Errorf("unexpected level counts: %v", report.Levels)
	}
	if rc.Len() != 0 {
		t.Error("reprocessing must invalidate cached aggregations")
	}
}

func TestNoSourcesFails(t *testing.T) {
	reg := &fakeRegistry{aliases: map[string][]registry.Descriptor{}}
	agg := newTestAggregator(reg, nil)

	_, err := agg.Aggregate(context.Background(), model.AggregationQuery{})
	if !errors.Is(err, ErrNoSources) {
		t.Errorf("expected ErrNoSources, got %v", err)
	}
}

func TestMalformedQueryFails(t *testing.T) {
	reg := singleAliasFixture(t, "INFO hello\n")
	agg := newTestAggregator(reg, nil)

	_, err := agg.Aggregate(context.Background(), model.AggregationQuery{SortBy: "bogus"})
	if !errors.Is(err, ErrBadQuery) {
		t.Errorf("expected ErrBadQuery, got %v", err)
	}

	_, err = agg.Aggregate(context.Background(), model.AggregationQuery{Date: "09/01/2025"})
	if !errors.Is(err, ErrBadQuery) {
		t.Errorf("expected ErrBadQuery for bad date, got %v", err)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	reg := singleAliasFixture(t, "[2025-09-01 10:00:00] ERROR boom\n")
	rc := cache.New(time.Minute)
	agg := newTestAggregator(reg, rc)

	query := model.AggregationQuery{Date: "2025-09-01", UseCache: true}

	first, err := agg.Aggregate(context.Background(), query)
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache {
		t.Error("first call must compute, not hit the cache")
	}

	second, err := agg.Aggregate(context.Background(), query)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Error("identical canonical query within TTL must hit the cache")
	}
	if len(second.Entries) != len(first.Entries) {
		t.Errorf("cached payload differs: %d vs %d entries", len(second.Entries), len(first.Entries))
	}

	rc.Clear()
	third, err := agg.Aggregate(context.Background(), query)
	if err != nil {
		t.Fatal(err)
	}
	if third.FromCache {
		t.Error("call after clear must recompute")
	}
}

func TestExplicitAliasIntersection(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeLog(t, dirA, "a.log", "[2025-09-01 08:00:00] INFO from-a\n", testDate.Add(8*time.Hour))
	writeLog(t, dirB, "b.log", "[2025-09-01 08:00:00] INFO from-b\n", testDate.Add(8*time.Hour))

	reg := &fakeRegistry{aliases: map[string][]registry.Descriptor{
		"alice": {
			{UserID: "alice", AliasName: "A", BasePath: dirA},
			{UserID: "alice", AliasName: "B", BasePath: dirB},
		},
	}}
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		AliasNames: []string{"B"},
		Date:       "2025-09-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 1 || res.Entries[0].AliasName != "B" {
		t.Errorf("expected only alias B entries, got %+v", res.Entries)
	}
}

func TestTimestampFallbackToFileMtime(t *testing.T) {
	dir := t.TempDir()
	older := testDate.Add(6 * time.Hour)
	newer := testDate.Add(12 * time.Hour)
	writeLog(t, dir, "old.log", "no timestamp here\n", older)
	writeLog(t, dir, "new.log", "nothing here either\n", newer)

	reg := &fakeRegistry{aliases: map[string][]registry.Descriptor{
		"alice": {{UserID: "alice", AliasName: "MyLogs", BasePath: dir}},
	}}
	agg := newTestAggregator(reg, nil)

	res, err := agg.Aggregate(context.Background(), model.AggregationQuery{
		Date:      "2025-09-01",
		SortBy:    model.SortByTimestamp,
		SortOrder: model.OrderDesc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].FileName != "new.log" {
		t.Errorf("expected mtime fallback to sort new.log first, got %s", res.Entries[0].FileName)
	}
}
