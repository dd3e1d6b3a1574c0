package parser

import (
	"reflect"
	"strings"
	"testing"

	"github.com/logmesh/logmesh/internal/model"
)

func TestBracketedFullDatetime(t *testing.T) {
	p := New()

	entries := p.Parse("[2025-09-01 10:00:00] ERROR database connection failed", "app.log")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Timestamp == nil {
		t.Fatal("expected timestamp, got nil")
	}
	if e.Timestamp.Year() != 2025 || e.Timestamp.Hour() != 10 {
		t.Errorf("unexpected timestamp %v", e.Timestamp)
	}
	if e.Message != "ERROR database connection failed" {
		t.Errorf("expected timestamp stripped from message, got %q", e.Message)
	}
	if e.Level != model.LevelError {
		t.Errorf("expected ERROR, got %s", e.Level)
	}
}

func TestBareFullDatetime(t *testing.T) {
	p := New()

	entries := p.Parse("2025-09-01 10:00:05 INFO started worker", "app.log")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Timestamp == nil {
		t.Fatal("expected timestamp, got nil")
	}
	if entries[0].Level != model.LevelInfo {
		t.Errorf("expected INFO, got %s", entries[0].Level)
	}
}

func TestTimeOnlyPatterns(t *testing.T) {
	p := New()

	for _, line := range []string{"[10:30:45] warning low disk", "10:30:45 warning low disk"} {
		entries := p.Parse(line, "app.log")
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry for %q, got %d", line, len(entries))
		}
		e := entries[0]
		if e.Timestamp == nil {
			t.Fatalf("expected timestamp for %q, got nil", line)
		}
		if e.Timestamp.Hour() != 10 || e.Timestamp.Minute() != 30 {
			t.Errorf("unexpected time %v for %q", e.Timestamp, line)
		}
		if e.Level != model.LevelWarning {
			t.Errorf("expected WARNING, got %s", e.Level)
		}
	}
}

func TestNoTimestampStaysNil(t *testing.T) {
	p := New()

	entries := p.Parse("plain line with no time marker", "app.log")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Timestamp != nil {
		t.Errorf("expected nil timestamp, got %v", entries[0].Timestamp)
	}
	if entries[0].Level != model.LevelDebug {
		t.Errorf("expected DEBUG fallback, got %s", entries[0].Level)
	}
}

func TestLevelPriority(t *testing.T) {
	p := New()

	// A line with both a warning and a critical keyword is CRITICAL:
	// the keyword sets are tested in severity order.
	entries := p.Parse("warning: fatal corruption detected", "app.log")
	if entries[0].Level != model.LevelCritical {
		t.Errorf("expected CRITICAL, got %s", entries[0].Level)
	}

	// Error beats warning the same way.
	entries = p.Parse("warning: request failed", "app.log")
	if entries[0].Level != model.LevelError {
		t.Errorf("expected ERROR, got %s", entries[0].Level)
	}
}

func TestEmptyLinesDroppedAndTrimmed(t *testing.T) {
	p := New()

	content := "first line  \n\n   \nsecond line\t\n"
	entries := p.Parse(content, "app.log")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RawText != "first line" {
		t.Errorf("expected trailing whitespace trimmed, got %q", entries[0].RawText)
	}
	if entries[0].LineNumber != 1 || entries[1].LineNumber != 2 {
		t.Errorf("expected kept-line numbering 1,2, got %d,%d",
			entries[0].LineNumber, entries[1].LineNumber)
	}
}

func TestIdempotence(t *testing.T) {
	p := New()

	content := "[2025-09-01 10:00:00] ERROR db down\nsome debug noise\n[2025-09-01 10:00:01] INFO recovered\n"
	first := p.Parse(content, "app.log")
	second := p.Parse(content, "app.log")

	if !reflect.DeepEqual(first, second) {
		t.Error("parsing identical content twice should yield identical entries")
	}
}

func TestIDStableAndDistinct(t *testing.T) {
	p := New()

	entries := p.Parse("line one\nline two\n", "app.log")
	if entries[0].ID == entries[1].ID {
		t.Error("different lines must have different IDs")
	}

	other := p.Parse("line one\nline two\n", "other.log")
	if entries[0].ID == other[0].ID {
		t.Error("same line index in different files must have different IDs")
	}
}

func TestRawTextRoundTrip(t *testing.T) {
	p := New()

	content := "alpha \nbeta\n\ngamma\t\n"
	entries := p.Parse(content, "app.log")

	var got []string
	for _, e := range entries {
		got = append(got, e.RawText)
	}
	want := []string{"alpha", "beta", "gamma"}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("raw text round trip mismatch: got %v, want %v", got, want)
	}
}

func TestOriginalOrderPreserved(t *testing.T) {
	p := New()

	entries := p.Parse("a\nb\nc\n", "app.log")
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].RawText != want {
			t.Errorf("position %d: expected %q, got %q", i, want, entries[i].RawText)
		}
	}
}
