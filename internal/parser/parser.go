package parser

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/logmesh/logmesh/internal/model"
)

// Parser converts raw file text into structured LogEntry records.
type Parser struct {
	patterns []tsPattern
}

// tsPattern is one timestamp extraction attempt. Patterns are tried in
// order; the first match wins and is stripped from the message.
type tsPattern struct {
	re     *regexp.Regexp
	layout string
	// timeOnly patterns carry no date component; the stamp takes the
	// current local date.
	timeOnly bool
}

// New creates a Parser with the default timestamp pattern list:
// bracketed full datetime, bare full datetime, bracketed time-only,
// bare time-only.
func New() *Parser {
	return &Parser{
		patterns: []tsPattern{
			{
				re:     regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2})\]\s*`),
				layout: "2006-01-02 15:04:05",
			},
			{
				re:     regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2})\s*`),
				layout: "2006-01-02 15:04:05",
			},
			{
				re:       regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\]\s*`),
				layout:   "15:04:05",
				timeOnly: true,
			},
			{
				re:       regexp.MustCompile(`^(\d{2}:\d{2}:\d{2})\s*`),
				layout:   "15:04:05",
				timeOnly: true,
			},
		},
	}
}

// Parse splits raw content into lines, trims trailing whitespace, drops
// empty lines, and produces one LogEntry per remaining line. The line index
// passed to entryID is 1-based over the kept lines, so re-parsing identical
// content yields identical IDs.
func (p *Parser) Parse(content, sourceFile string) []model.LogEntry {
	lines := strings.Split(content, "\n")
	entries := make([]model.LogEntry, 0, len(lines))

	idx := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			continue
		}
		idx++

		ts, msg := p.extractTimestamp(line)
		entries = append(entries, model.LogEntry{
			ID:         entryID(sourceFile, idx),
			SourceFile: sourceFile,
			LineNumber: idx,
			Timestamp:  ts,
			RawText:    line,
			Message:    msg,
			Level:      detectLevel(msg),
		})
	}
	return entries
}

// extractTimestamp tries each pattern in order against the start of the line.
// On a match the timestamp text is stripped from the returned message; with
// no match the timestamp stays nil and the message is the whole line.
func (p *Parser) extractTimestamp(line string) (*time.Time, string) {
	for _, pat := range p.patterns {
		m := pat.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		raw := strings.Replace(m[1], "T", " ", 1)
		t, err := time.ParseInLocation(pat.layout, raw, time.Local)
		if err != nil {
			continue
		}
		if pat.timeOnly {
			now := time.Now()
			t = time.Date(now.Year(), now.Month(), now.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, time.Local)
		}
		msg := strings.TrimSpace(line[len(m[0]):])
		if msg == "" {
			msg = line
		}
		return &t, msg
	}
	return nil, line
}

// Ordered keyword sets for level detection. Tested critical → error →
// warning → info; the first set with a hit wins, otherwise DEBUG.
var levelKeywords = []struct {
	level    model.Level
	keywords []string
}{
	{model.LevelCritical, []string{"critical", "fatal", "panic", "emergency", "crash"}},
	{model.LevelError, []string{"error", "err:", "exception", "failed", "failure", "denied"}},
	{model.LevelWarning, []string{"warning", "warn", "deprecated", "timeout", "retry"}},
	{model.LevelInfo, []string{"info", "notice", "started", "starting", "stopped", "listening", "connected"}},
}

// detectLevel lower-cases the message and tests the keyword sets in order.
func detectLevel(msg string) model.Level {
	lower := strings.ToLower(msg)
	for _, set := range levelKeywords {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.level
			}
		}
	}
	return model.LevelDebug
}

// entryID derives a stable identifier from the source file name and the
// 1-based line index. Identical content re-parses to identical IDs.
func entryID(sourceFile string, index int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", sourceFile, index)
	return fmt.Sprintf("%016x", h.Sum64())
}
