package model

import "time"

// Level is a log severity. The numeric value doubles as the severity rank
// used for sorting and urgency scoring.
type Level int

const (
	LevelDebug    Level = 1
	LevelInfo     Level = 2
	LevelWarning  Level = 3
	LevelError    Level = 4
	LevelCritical Level = 5
)

// String returns the canonical upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelCritical:
		return "CRITICAL"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// ParseLevel maps a level name (any casing) to a Level. Unknown names fall
// through to DEBUG, matching the parser's classification fallback.
func ParseLevel(s string) Level {
	switch normalizeLevel(s) {
	case "CRITICAL":
		return LevelCritical
	case "ERROR":
		return LevelError
	case "WARNING", "WARN":
		return LevelWarning
	case "INFO":
		return LevelInfo
	default:
		return LevelDebug
	}
}

func normalizeLevel(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// MarshalJSON emits the level name rather than its rank.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted level name.
func (l *Level) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	*l = ParseLevel(s)
	return nil
}

// LogEntry is a single parsed log line. Immutable once produced by the parser.
type LogEntry struct {
	ID         string     `json:"id"`         // stable hash of source file + line index
	SourceFile string     `json:"sourceFile"` // file name the line came from
	LineNumber int        `json:"lineNumber"` // 1-based position in the file
	Timestamp  *time.Time `json:"timestamp"`  // nil when no pattern matched
	RawText    string     `json:"rawText"`    // trimmed original line
	Message    string     `json:"message"`    // line with the timestamp stripped
	Level      Level      `json:"level"`
	Category   string     `json:"category,omitempty"` // filled by the classifier
}

// SeverityRank returns the numeric rank of the entry's level (5..1).
func (e LogEntry) SeverityRank() int { return int(e.Level) }

// TaggedEntry is a LogEntry annotated with its origin during aggregation.
type TaggedEntry struct {
	LogEntry
	UserID         string    `json:"userId"`
	AliasName      string    `json:"aliasName"`
	FileName       string    `json:"fileName"`
	FilePath       string    `json:"filePath"`
	FileModifiedAt time.Time `json:"fileModifiedAt"`
}

// EffectiveTime is the time used as a sort key: the parsed timestamp when
// present, otherwise the modification time of the file the entry came from.
func (e TaggedEntry) EffectiveTime() time.Time {
	if e.Timestamp != nil {
		return *e.Timestamp
	}
	return e.FileModifiedAt
}

// LogFile is a point-in-time snapshot of a discovered file. Not retained
// past a single discovery call.
type LogFile struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	Extension  string    `json:"extension"`
}
