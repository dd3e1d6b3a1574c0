package watcher

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// callbacks route subscription observations back to the watch state machine.
type callbacks struct {
	onFile    func(name string, kind fileEventKind)
	onError   func(err error)
	onHealthy func()
}

// subscription is one live observation strategy for a directory.
type subscription interface {
	stop()
}

// stamp identifies a file's observed state. A change is only reported once
// the stamp stops moving for the stability threshold, so a file mid-write
// over a slow mount does not fire repeatedly.
type stamp struct {
	size int64
	mod  time.Time
}

type pendingChange struct {
	s     stamp
	kind  fileEventKind
	since time.Time
}

// pollSub watches a directory by periodic stat scans. Polling is the
// default because inotify does not work on most network mounts.
type pollSub struct {
	dir     string
	cfg     Config
	cb      callbacks
	log     *zap.Logger
	known   map[string]stamp
	pending map[string]pendingChange
	stopCh  chan struct{}
}

func newPollSub(dir string, cfg Config, cb callbacks, log *zap.Logger) *pollSub {
	s := &pollSub{
		dir:     dir,
		cfg:     cfg,
		cb:      cb,
		log:     log,
		known:   make(map[string]stamp),
		pending: make(map[string]pendingChange),
		stopCh:  make(chan struct{}),
	}

	// Baseline snapshot: pre-existing files are not reported as added.
	if snap, err := s.snapshot(); err == nil {
		s.known = snap
	}

	go s.loop()
	return s
}

func (s *pollSub) stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *pollSub) loop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			snap, err := s.snapshot()
			if err != nil {
				s.cb.onError(err)
				return // the watch replaces this subscription on retry
			}
			s.diff(snap)
			s.cb.onHealthy()
		}
	}
}

// snapshot stats every supported file directly under the directory.
func (s *pollSub) snapshot() (map[string]stamp, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]stamp, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // vanished between ReadDir and Stat
		}
		snap[de.Name()] = stamp{size: info.Size(), mod: info.ModTime()}
	}
	return snap, nil
}

// diff compares the new snapshot against known state. New or modified files
// enter the pending set and are promoted to events only after their stamp
// has been stable for the configured threshold.
func (s *pollSub) diff(snap map[string]stamp) {
	now := time.Now()

	for name, cur := range snap {
		prev, isKnown := s.known[name]
		if isKnown && prev == cur {
			delete(s.pending, name)
			continue
		}

		kind := fileChanged
		if !isKnown {
			kind = fileAdded
		}

		p, inFlight := s.pending[name]
		if !inFlight || p.s != cur {
			// First observation of this state, or still being written.
			if inFlight && p.kind == fileAdded {
				kind = fileAdded
			}
			s.pending[name] = pendingChange{s: cur, kind: kind, since: now}
			if s.cfg.StabilityThreshold > 0 {
				continue
			}
			p = s.pending[name]
		}

		if now.Sub(p.since) >= s.cfg.StabilityThreshold {
			s.known[name] = cur
			delete(s.pending, name)
			s.cb.onFile(name, p.kind)
		}
	}

	for name := range s.known {
		if _, ok := snap[name]; !ok {
			delete(s.known, name)
			delete(s.pending, name)
			s.cb.onFile(name, fileRemoved)
		}
	}
}
