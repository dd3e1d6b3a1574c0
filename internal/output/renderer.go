// Package output renders aggregation results for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/logmesh/logmesh/internal/model"
)

// Renderer writes an aggregation result to an output stream.
type Renderer interface {
	Render(result model.AggregationResult) error
}

var (
	styleDebug    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
	styleInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleWarning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleCritical = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true)
	styleSource = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true)
	styleMeta   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// TextRenderer prints entries with severity-based colors.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a Renderer writing colorized text to stdout.
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{w: os.Stdout}
}

func (r *TextRenderer) Render(result model.AggregationResult) error {
	for _, e := range result.Entries {
		ts := "--:--:--"
		if e.Timestamp != nil {
			ts = e.Timestamp.Format("15:04:05")
		}
		src := styleSource.Render(e.UserID + "/" + e.AliasName + "/" + e.FileName)
		line := fmt.Sprintf("%s %s %s %s", ts, levelTag(e.Level), src, e.Message)
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%d of %d entries (offset %d)",
		len(result.Entries), result.Pagination.Total, result.Pagination.Offset)
	if len(result.Metadata.Failures) > 0 {
		summary += fmt.Sprintf(", %d source(s) failed", len(result.Metadata.Failures))
	}
	if result.FromCache {
		summary += ", cached"
	}
	_, err := fmt.Fprintln(r.w, styleMeta.Render(summary))
	return err
}

func levelTag(level model.Level) string {
	padded := fmt.Sprintf("%-8s", level.String())
	switch level {
	case model.LevelCritical:
		return styleCritical.Render(padded)
	case model.LevelError:
		return styleError.Render(padded)
	case model.LevelWarning:
		return styleWarning.Render(padded)
	case model.LevelInfo:
		return styleInfo.Render(padded)
	default:
		return styleDebug.Render(padded)
	}
}

// JSONRenderer prints the whole result as one JSON document for piping.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer writing indented JSON to stdout.
func NewJSONRenderer() *JSONRenderer {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return &JSONRenderer{enc: enc}
}

func (r *JSONRenderer) Render(result model.AggregationResult) error {
	return r.enc.Encode(result)
}
