package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RuleSpec is the on-disk form of one classification rule. Rules are matched
// in file order; the first rule with any matching pattern claims the entry.
type RuleSpec struct {
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
	Severity string   `yaml:"severity"`
}

// ruleFile is the YAML document shape for an external rule table.
type ruleFile struct {
	Rules     []RuleSpec        `yaml:"rules"`
	Solutions map[string]string `yaml:"solutions"`
}

// rule is a compiled classification rule.
type rule struct {
	category string
	patterns []*regexp.Regexp
	severity string
}

// OtherCategory collects entries no rule claims.
const OtherCategory = "Other"

// defaultRules is the built-in rule table, used when no rule file is
// configured. Order matters.
var defaultRules = []RuleSpec{
	{
		Category: "Database Issues",
		Patterns: []string{`database`, `\bsql\b`, `deadlock`, `connection pool`, `query (failed|timeout)`},
		Severity: "high",
	},
	{
		Category: "Network Issues",
		Patterns: []string{`network`, `connection (refused|reset|failed)`, `\bdns\b`, `socket`, `unreachable`},
		Severity: "high",
	},
	{
		Category: "Authentication Issues",
		Patterns: []string{`auth`, `login fail`, `unauthorized`, `invalid (token|credential)`, `permission denied`, `access denied`},
		Severity: "medium",
	},
	{
		Category: "Memory Issues",
		Patterns: []string{`out of memory`, `\boom\b`, `memory leak`, `heap`, `allocation fail`},
		Severity: "high",
	},
	{
		Category: "Disk Issues",
		Patterns: []string{`disk`, `no space left`, `i/o error`, `read-only file system`, `quota exceeded`},
		Severity: "high",
	},
	{
		Category: "Timeout Issues",
		Patterns: []string{`timed? ?out`, `deadline exceeded`},
		Severity: "medium",
	},
}

// defaultSolutions maps a category to its remediation hint.
var defaultSolutions = map[string]string{
	"Database Issues":       "Check database connectivity, credentials, and connection pool limits. Inspect slow query logs for deadlocks.",
	"Network Issues":        "Verify network reachability and DNS resolution from the host. Check firewall rules and service endpoints.",
	"Authentication Issues": "Verify credentials and token expiry. Review recent permission or role changes.",
	"Memory Issues":         "Inspect process memory usage and recent deploys. Consider raising limits or fixing leaks before restarting.",
	"Disk Issues":           "Check free disk space and filesystem health. Rotate or archive old log files.",
	"Timeout Issues":        "Check downstream service latency and configured timeouts. Look for resource saturation.",
	OtherCategory:           "Review the raw log entries; no known pattern matched.",
}

// compileRules validates and compiles a rule spec list. Patterns are
// case-insensitive.
func compileRules(specs []RuleSpec) ([]rule, error) {
	rules := make([]rule, 0, len(specs))
	for _, spec := range specs {
		if spec.Category == "" {
			return nil, fmt.Errorf("rule with empty category")
		}
		if len(spec.Patterns) == 0 {
			return nil, fmt.Errorf("rule %q has no patterns", spec.Category)
		}
		r := rule{category: spec.Category, severity: spec.Severity}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("rule %q: invalid pattern %q: %w", spec.Category, p, err)
			}
			r.patterns = append(r.patterns, re)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadRuleFile reads an external YAML rule table. Solutions given in the
// file override the built-in remediation hints per category.
func LoadRuleFile(path string) ([]RuleSpec, map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read rule file: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, nil, fmt.Errorf("parse rule file: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, nil, fmt.Errorf("rule file %s defines no rules", path)
	}
	solutions := make(map[string]string, len(defaultSolutions))
	for k, v := range defaultSolutions {
		solutions[k] = v
	}
	for k, v := range rf.Solutions {
		solutions[k] = v
	}
	return rf.Rules, solutions, nil
}
