// Package discovery finds candidate log files in a directory for a target
// calendar date.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/model"
)

// ErrNotFound is returned when the base path itself is missing or not a
// directory. Per-file stat errors are skipped, never fatal.
var ErrNotFound = errors.New("base path not found")

// Extension patterns. Matching is by file name against a brace glob so the
// set stays a single knob.
const (
	logPattern    = "*.{log,txt,out,err}"
	browsePattern = "*.{log,txt,out,err,json}"
)

// Discovery lists files directly under a base path (no recursion).
type Discovery struct {
	log *zap.Logger
}

// New creates a Discovery.
func New(log *zap.Logger) *Discovery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discovery{log: log}
}

// FindForDate returns the files directly under basePath whose extension is
// in the supported log set and whose last-modified local calendar date
// equals targetDate, sorted by modification time descending.
func (d *Discovery) FindForDate(basePath string, targetDate time.Time) ([]model.LogFile, error) {
	return d.find(basePath, logPattern, &targetDate)
}

// Browse returns every supported file directly under basePath regardless of
// date, including .json, sorted by modification time descending.
func (d *Discovery) Browse(basePath string) ([]model.LogFile, error) {
	return d.find(basePath, browsePattern, nil)
}

func (d *Discovery) find(basePath, pattern string, targetDate *time.Time) ([]model.LogFile, error) {
	dirEntries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, basePath)
		}
		return nil, fmt.Errorf("read dir %s: %w", basePath, err)
	}

	var files []model.LogFile
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		ok, err := doublestar.Match(pattern, strings.ToLower(name))
		if err != nil || !ok {
			continue
		}

		info, err := de.Info()
		if err != nil {
			// A file can vanish between ReadDir and Stat on network
			// shares; skip it rather than abort the scan.
			d.log.Warn("skipping file, stat failed",
				zap.String("path", filepath.Join(basePath, name)),
				zap.Error(err))
			continue
		}

		if targetDate != nil && !sameCalendarDate(info.ModTime(), *targetDate) {
			continue
		}

		files = append(files, model.LogFile{
			Path:       filepath.Join(basePath, name),
			Name:       name,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
			CreatedAt:  info.ModTime(),
			Extension:  strings.ToLower(filepath.Ext(name)),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// sameCalendarDate compares the local calendar dates of two instants,
// ignoring time of day.
func sameCalendarDate(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
