package watcher

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// notifySub watches a directory with OS-level notifications. Only suitable
// for local filesystems; network mounts should use the poll mode.
type notifySub struct {
	fsw    *fsnotify.Watcher
	cb     callbacks
	log    *zap.Logger
	stopCh chan struct{}
}

func newNotifySub(dir string, cb callbacks, log *zap.Logger) (*notifySub, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	s := &notifySub{
		fsw:    fsw,
		cb:     cb,
		log:    log,
		stopCh: make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *notifySub) stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	_ = s.fsw.Close()
}

func (s *notifySub) loop() {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			switch {
			case ev.Op&fsnotify.Create != 0:
				s.cb.onFile(name, fileAdded)
			// Rename covers atomic writes (write tmp → rename to target).
			case ev.Op&fsnotify.Write != 0, ev.Op&fsnotify.Rename != 0:
				s.cb.onFile(name, fileChanged)
			case ev.Op&fsnotify.Remove != 0:
				s.cb.onFile(name, fileRemoved)
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.cb.onError(err)
			return
		}
	}
}
