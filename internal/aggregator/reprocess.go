package aggregator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/cache"
	"github.com/logmesh/logmesh/internal/classifier"
	"github.com/logmesh/logmesh/internal/parser"
)

// ReprocessReport is the outcome of re-reading one changed file. It is the
// payload the watcher broadcasts after a debounced change.
type ReprocessReport struct {
	UserID     string            `json:"userId"`
	AliasName  string            `json:"aliasName"`
	FilePath   string            `json:"filePath"`
	EntryCount int               `json:"entryCount"`
	Levels     map[string]int    `json:"levels"`
	Status     string            `json:"status"`
	Report     classifier.Report `json:"classification"`
}

// HasCritical reports whether any critical entry was found.
func (r ReprocessReport) HasCritical() bool { return r.Report.HasCritical }

// Reprocessor parses and classifies a changed file and invalidates the
// result cache so the next aggregation sees fresh data.
type Reprocessor struct {
	parser     *parser.Parser
	classifier *classifier.Classifier
	cache      *cache.ResultCache
	log        *zap.Logger
}

// NewReprocessor wires the reprocessing pass. The cache may be nil.
func NewReprocessor(p *parser.Parser, c *classifier.Classifier, rc *cache.ResultCache, log *zap.Logger) *Reprocessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reprocessor{parser: p, classifier: c, cache: rc, log: log}
}

// Reprocess re-reads one file. Unparseable timestamps stay nil here exactly
// as on the aggregation path.
func (r *Reprocessor) Reprocess(ctx context.Context, userID, aliasName, path string) (*ReprocessReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read changed file: %w", err)
	}

	entries := r.parser.Parse(string(raw), filepath.Base(path))
	report := r.classifier.Classify(entries)

	levels := make(map[string]int)
	for _, e := range entries {
		levels[e.Level.String()]++
	}

	// Cached aggregations may now be stale.
	if r.cache != nil {
		r.cache.Clear()
	}

	r.log.Info("reprocessed changed file",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
		zap.String("status", report.Status))

	return &ReprocessReport{
		UserID:     userID,
		AliasName:  aliasName,
		FilePath:   path,
		EntryCount: len(entries),
		Levels:     levels,
		Status:     report.Status,
		Report:     report,
	}, nil
}
