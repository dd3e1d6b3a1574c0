// Package aggregator orchestrates discovery and parsing across many
// (user, alias) sources and applies filter/sort/group/paginate semantics.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/logmesh/logmesh/internal/cache"
	"github.com/logmesh/logmesh/internal/classifier"
	"github.com/logmesh/logmesh/internal/discovery"
	"github.com/logmesh/logmesh/internal/model"
	"github.com/logmesh/logmesh/internal/parser"
	"github.com/logmesh/logmesh/internal/registry"
)

var (
	// ErrNoSources is returned when no users or aliases resolve at all.
	ErrNoSources = errors.New("no users or aliases resolved")
	// ErrBadQuery is returned for malformed queries.
	ErrBadQuery = errors.New("malformed query")
)

// Options tune the aggregation worker pool.
type Options struct {
	// WorkerLimit bounds concurrent per-alias scans so a shared network
	// share is not saturated. Zero means 4.
	WorkerLimit int
	// AliasTimeout bounds how long one alias may take before it is
	// recorded as failed. Zero means 15s.
	AliasTimeout time.Duration
}

// Aggregator answers aggregation queries against the alias registry.
type Aggregator struct {
	registry   registry.AliasRegistry
	discovery  *discovery.Discovery
	parser     *parser.Parser
	classifier *classifier.Classifier
	cache      *cache.ResultCache
	opts       Options
	log        *zap.Logger
}

// New creates an Aggregator. The cache may be nil to disable memoization;
// the classifier may be nil to skip categorization.
func New(reg registry.AliasRegistry, disc *discovery.Discovery, p *parser.Parser, cls *classifier.Classifier, c *cache.ResultCache, opts Options, log *zap.Logger) *Aggregator {
	if opts.WorkerLimit <= 0 {
		opts.WorkerLimit = 4
	}
	if opts.AliasTimeout <= 0 {
		opts.AliasTimeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		registry:   reg,
		discovery:  disc,
		parser:     p,
		classifier: cls,
		cache:      c,
		opts:       opts,
		log:        log,
	}
}

// target is one (user, alias) pair to scan.
type target struct {
	userID string
	alias  registry.Descriptor
}

// aliasOutcome is what one alias scan produced. failures carries both a
// whole-alias failure and any per-file read failures; aliasFailed marks the
// former so processed-user accounting can tell them apart.
type aliasOutcome struct {
	userID      string
	entries     []model.TaggedEntry
	files       int
	failures    []model.SourceFailure
	aliasFailed bool
}

// Aggregate runs the full pipeline: resolve sources, scan them concurrently,
// then filter, sort, group, and paginate. Per-alias and per-file failures
// land in result metadata; the call fails outright only for a malformed
// query or when zero sources resolve.
func (a *Aggregator) Aggregate(ctx context.Context, query model.AggregationQuery) (model.AggregationResult, error) {
	if err := query.Validate(); err != nil {
		return model.AggregationResult{}, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	query = query.Normalized()
	key := query.CanonicalKey()

	if query.UseCache && a.cache != nil {
		if res, ok := a.cache.Get(key); ok {
			a.log.Debug("aggregation served from cache", zap.String("key", key))
			return res, nil
		}
	}

	targets, totalUsers, err := a.resolveTargets(query)
	if err != nil {
		return model.AggregationResult{}, err
	}

	outcomes := a.scan(ctx, targets, query.TargetDate())

	var (
		all      []model.TaggedEntry
		failures []model.SourceFailure
		files    int
	)
	processed := make(map[string]bool)
	for _, out := range outcomes {
		all = append(all, out.entries...)
		files += out.files
		failures = append(failures, out.failures...)
		if !out.aliasFailed {
			processed[out.userID] = true
		}
	}

	res := assemble(all, query)
	res.Metadata = model.Metadata{
		TotalUsers:     totalUsers,
		ProcessedUsers: len(processed),
		TotalFiles:     files,
		TotalLogs:      res.TotalBeforeFilter,
		Failures:       failures,
	}

	if query.UseCache && a.cache != nil {
		a.cache.Set(key, res)
	}
	a.log.Info("aggregation complete",
		zap.Int("sources", len(targets)),
		zap.Int("entries", res.TotalAfterFilter),
		zap.Int("failures", len(failures)))
	return res, nil
}

// resolveTargets expands the query into concrete (user, alias) pairs.
// Explicit user IDs narrow the user set; explicit alias names intersect
// each user's aliases. Both are matched case-insensitively, mirroring the
// canonical cache key, so queries that canonicalize identically resolve
// identically.
func (a *Aggregator) resolveTargets(query model.AggregationQuery) ([]target, int, error) {
	users := a.registry.Users()
	if len(query.UserIDs) > 0 {
		wantUser := make(map[string]bool, len(query.UserIDs))
		for _, u := range query.UserIDs {
			wantUser[strings.ToLower(u)] = true
		}
		matched := make([]string, 0, len(users))
		for _, u := range users {
			if wantUser[strings.ToLower(u)] {
				matched = append(matched, u)
			}
		}
		users = matched
	}

	var wantAlias map[string]bool
	if len(query.AliasNames) > 0 {
		wantAlias = make(map[string]bool, len(query.AliasNames))
		for _, n := range query.AliasNames {
			wantAlias[strings.ToLower(n)] = true
		}
	}

	var targets []target
	for _, u := range users {
		for _, alias := range a.registry.AliasesForUser(u) {
			if wantAlias != nil && !wantAlias[strings.ToLower(alias.AliasName)] {
				continue
			}
			targets = append(targets, target{userID: u, alias: alias})
		}
	}
	if len(targets) == 0 {
		return nil, 0, fmt.Errorf("%w (users=%v aliases=%v)", ErrNoSources, query.UserIDs, query.AliasNames)
	}
	return targets, len(users), nil
}

// scan runs one bounded worker per target. A slow or unreachable alias
// fails independently after the per-alias timeout without blocking its
// siblings.
func (a *Aggregator) scan(ctx context.Context, targets []target, date time.Time) []aliasOutcome {
	var (
		mu       sync.Mutex
		outcomes []aliasOutcome
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.WorkerLimit)

	for _, tgt := range targets {
		tgt := tgt
		g.Go(func() error {
			out := a.scanAlias(ctx, tgt, date)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil // failures are recorded, never propagated
		})
	}
	_ = g.Wait()
	return outcomes
}

// scanAlias discovers and parses one alias directory under a bounded
// timeout.
func (a *Aggregator) scanAlias(ctx context.Context, tgt target, date time.Time) aliasOutcome {
	ctx, cancel := context.WithTimeout(ctx, a.opts.AliasTimeout)
	defer cancel()

	type scanResult struct {
		entries  []model.TaggedEntry
		files    int
		failures []model.SourceFailure
		err      error
	}
	done := make(chan scanResult, 1)

	go func() {
		var r scanResult
		files, err := a.discovery.FindForDate(tgt.alias.BasePath, date)
		if err != nil {
			r.err = err
			done <- r
			return
		}
		for _, f := range files {
			raw, err := os.ReadFile(f.Path)
			if err != nil {
				// Per-file read failures are tolerated but surfaced:
				// the file lands in result metadata, not the entry set.
				a.log.Warn("skipping unreadable file",
					zap.String("path", f.Path), zap.Error(err))
				r.failures = append(r.failures, model.SourceFailure{
					UserID:    tgt.userID,
					AliasName: tgt.alias.AliasName,
					Path:      f.Path,
					Reason:    err.Error(),
				})
				continue
			}
			r.files++
			for _, e := range a.parser.Parse(string(raw), f.Name) {
				if a.classifier != nil && e.Level >= model.LevelWarning {
					e.Category = a.classifier.Categorize(e.Message)
				}
				r.entries = append(r.entries, model.TaggedEntry{
					LogEntry:       e,
					UserID:         tgt.userID,
					AliasName:      tgt.alias.AliasName,
					FileName:       f.Name,
					FilePath:       f.Path,
					FileModifiedAt: f.ModifiedAt,
				})
			}
		}
		done <- r
	}()

	fail := func(reason string) aliasOutcome {
		return aliasOutcome{
			userID:      tgt.userID,
			aliasFailed: true,
			failures: []model.SourceFailure{{
				UserID:    tgt.userID,
				AliasName: tgt.alias.AliasName,
				Path:      tgt.alias.BasePath,
				Reason:    reason,
			}},
		}
	}

	select {
	case <-ctx.Done():
		return fail("timed out after " + a.opts.AliasTimeout.String())
	case r := <-done:
		if r.err != nil {
			return fail(r.err.Error())
		}
		a.touch(tgt)
		return aliasOutcome{
			userID:   tgt.userID,
			entries:  r.entries,
			files:    r.files,
			failures: r.failures,
		}
	}
}

// touch bumps the alias access counter when the registry supports it.
func (a *Aggregator) touch(tgt target) {
	type toucher interface {
		Touch(userID, name string) error
	}
	if t, ok := a.registry.(toucher); ok {
		if err := t.Touch(tgt.userID, tgt.alias.AliasName); err != nil {
			a.log.Debug("alias access bump failed", zap.Error(err))
		}
	}
}
