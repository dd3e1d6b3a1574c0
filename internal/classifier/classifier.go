// Package classifier buckets warning/error/critical log entries into
// categories with remediation hints and urgency scores.
package classifier

import (
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/model"
)

// Urgency scores a category by its CRITICAL/ERROR counts.
type Urgency string

const (
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyMedium    Urgency = "MEDIUM"
	UrgencyLow       Urgency = "LOW"
)

// Overall health statuses.
const (
	StatusCritical       = "CRITICAL"
	StatusNeedsAttention = "NEEDS_ATTENTION"
	StatusHealthy        = "HEALTHY"
)

// CategoryReport is the classification outcome for one category.
type CategoryReport struct {
	Category      string           `json:"category"`
	Severity      string           `json:"severity,omitempty"` // claiming rule's default severity label
	Entries       []model.LogEntry `json:"entries"`
	CriticalCount int              `json:"criticalCount"`
	ErrorCount    int              `json:"errorCount"`
	WarningCount  int              `json:"warningCount"`
	Urgency       Urgency          `json:"urgency"`
	Remediation   string           `json:"remediation"`
}

// Report is the full classification outcome for a batch of entries.
type Report struct {
	Categories   map[string]*CategoryReport `json:"categories"`
	MostFrequent string                     `json:"mostFrequentCategory"`
	HasCritical  bool                       `json:"hasCritical"`
	Status       string                     `json:"status"`
}

// Classifier applies an ordered rule table to entries at WARNING or above.
type Classifier struct {
	rules     []rule
	solutions map[string]string
	log       *zap.Logger
}

// New creates a Classifier with the built-in rule table.
func New(log *zap.Logger) *Classifier {
	c, err := NewWithRules(defaultRules, defaultSolutions, log)
	if err != nil {
		// The built-in table is compiled in tests; this cannot happen
		// for user input.
		panic(err)
	}
	return c
}

// NewWithRules creates a Classifier from an externally loaded rule table.
func NewWithRules(specs []RuleSpec, solutions map[string]string, log *zap.Logger) (*Classifier, error) {
	rules, err := compileRules(specs)
	if err != nil {
		return nil, err
	}
	if solutions == nil {
		solutions = defaultSolutions
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{rules: rules, solutions: solutions, log: log}, nil
}

// Classify buckets every entry at WARNING or above. Rules are tested in
// table order and the first rule with any matching pattern claims the entry;
// unmatched entries land in the "Other" bucket. Entries below WARNING are
// ignored.
func (c *Classifier) Classify(entries []model.LogEntry) Report {
	report := Report{Categories: make(map[string]*CategoryReport)}

	for _, e := range entries {
		if e.Level < model.LevelWarning {
			continue
		}
		cat, sev := c.match(e.Message)
		e.Category = cat

		cr, ok := report.Categories[cat]
		if !ok {
			cr = &CategoryReport{Category: cat, Severity: sev, Remediation: c.remediation(cat)}
			report.Categories[cat] = cr
		}
		cr.Entries = append(cr.Entries, e)
		switch e.Level {
		case model.LevelCritical:
			cr.CriticalCount++
			report.HasCritical = true
		case model.LevelError:
			cr.ErrorCount++
		case model.LevelWarning:
			cr.WarningCount++
		}
	}

	most, max := "", 0
	for name, cr := range report.Categories {
		cr.Urgency = scoreUrgency(cr.CriticalCount, cr.ErrorCount)
		if len(cr.Entries) > max || (len(cr.Entries) == max && (most == "" || name < most)) {
			most, max = name, len(cr.Entries)
		}
	}
	report.MostFrequent = most

	switch {
	case report.HasCritical:
		report.Status = StatusCritical
	case len(report.Categories) > 0:
		report.Status = StatusNeedsAttention
	default:
		report.Status = StatusHealthy
	}

	if report.Status != StatusHealthy {
		c.log.Debug("classified entries",
			zap.Int("categories", len(report.Categories)),
			zap.String("status", report.Status),
			zap.String("mostFrequent", report.MostFrequent))
	}
	return report
}

// Categorize returns the category the rule table assigns to a message.
func (c *Classifier) Categorize(message string) string {
	cat, _ := c.match(message)
	return cat
}

// match returns the claiming rule's category and default severity label.
// Unmatched messages land in the "Other" bucket with no severity label.
func (c *Classifier) match(message string) (string, string) {
	for _, r := range c.rules {
		for _, re := range r.patterns {
			if re.MatchString(message) {
				return r.category, r.severity
			}
		}
	}
	return OtherCategory, ""
}

func (c *Classifier) remediation(category string) string {
	if s, ok := c.solutions[category]; ok {
		return s
	}
	return c.solutions[OtherCategory]
}

// scoreUrgency maps critical/error counts within a category to an urgency.
func scoreUrgency(criticals, errors int) Urgency {
	switch {
	case criticals > 0:
		return UrgencyImmediate
	case errors >= 10:
		return UrgencyHigh
	case errors > 0:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
