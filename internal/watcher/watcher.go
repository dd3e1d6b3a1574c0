// Package watcher observes alias directories for changes and schedules
// debounced reprocessing with bounded retry.
//
// Each watched directory moves through UNWATCHED → STARTING → READY, flips
// between READY and RETRYING on errors, and lands in FAILED once the retry
// budget is spent. Stop returns any state to UNWATCHED.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/aggregator"
	"github.com/logmesh/logmesh/internal/broadcast"
	"github.com/logmesh/logmesh/internal/model"
)

// Watch modes.
const (
	ModePoll   = "poll"   // stat-based polling, required for network mounts
	ModeNotify = "notify" // fsnotify subscription for local directories
)

// ErrAlreadyWatched is returned when a directory already has a live watch.
var ErrAlreadyWatched = errors.New("directory already watched")

// Config carries the watcher knobs. Poll interval and stability threshold
// trade responsiveness against network load.
type Config struct {
	Mode               string
	PollInterval       time.Duration
	StabilityThreshold time.Duration
	DebounceQuiet      time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	ReprocessTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePoll
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.StabilityThreshold < 0 {
		c.StabilityThreshold = 0
	}
	if c.DebounceQuiet <= 0 {
		c.DebounceQuiet = 3 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.ReprocessTimeout <= 0 {
		c.ReprocessTimeout = 30 * time.Second
	}
	return c
}

// Reprocessor runs the parse+classify pass after a debounced change.
type Reprocessor interface {
	Reprocess(ctx context.Context, userID, aliasName, path string) (*aggregator.ReprocessReport, error)
}

// Target names the directory to watch and the (user, alias) it belongs to.
type Target struct {
	UserID    string `json:"userId"`
	AliasName string `json:"aliasName"`
	BasePath  string `json:"basePath"`
}

func (t Target) context() string { return t.UserID + "/" + t.AliasName }

// Info is a snapshot of one watch for introspection.
type Info struct {
	Target     Target            `json:"target"`
	Status     model.WatchStatus `json:"status"`
	RetryCount int               `json:"retryCount"`
	LastError  string            `json:"lastError,omitempty"`
}

// Watcher manages one logical subscription per watched directory. The
// broadcaster and reprocessor are explicit dependencies so tests can
// substitute fakes.
type Watcher struct {
	cfg         Config
	broadcaster broadcast.Broadcaster
	reprocessor Reprocessor
	log         *zap.Logger

	mu      sync.Mutex
	watches map[string]*watch // keyed by base path
}

// New creates a Watcher.
func New(cfg Config, b broadcast.Broadcaster, r Reprocessor, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		cfg:         cfg.withDefaults(),
		broadcaster: b,
		reprocessor: r,
		log:         log,
		watches:     make(map[string]*watch),
	}
}

// Watch starts observing a directory. An unreachable path emits a single
// path-not-found event, consumes no retry attempt, and stays non-retrying
// until an explicit Restart.
func (wr *Watcher) Watch(target Target) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if existing, ok := wr.watches[target.BasePath]; ok && !existing.isStopped() {
		return fmt.Errorf("%w: %s", ErrAlreadyWatched, target.BasePath)
	}

	w := newWatch(target, wr)
	wr.watches[target.BasePath] = w
	w.start()
	return nil
}

// Restart stops any previous watch on the target's path and starts fresh.
// This is the only way out of FAILED.
func (wr *Watcher) Restart(target Target) error {
	wr.Unwatch(target.BasePath)
	return wr.Watch(target)
}

// Unwatch stops observing a directory. Safe to call for unknown paths.
func (wr *Watcher) Unwatch(basePath string) {
	wr.mu.Lock()
	w, ok := wr.watches[basePath]
	delete(wr.watches, basePath)
	wr.mu.Unlock()
	if ok {
		w.stop()
	}
}

// Stop closes every active subscription and cancels all pending debounce
// and retry timers. Idempotent; safe even if nothing was ever watched.
func (wr *Watcher) Stop() {
	wr.mu.Lock()
	watches := make([]*watch, 0, len(wr.watches))
	for path, w := range wr.watches {
		watches = append(watches, w)
		delete(wr.watches, path)
	}
	wr.mu.Unlock()
	for _, w := range watches {
		w.stop()
	}
}

// Status returns the state of a watch, or UNWATCHED for unknown paths.
func (wr *Watcher) Status(basePath string) model.WatchStatus {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if w, ok := wr.watches[basePath]; ok {
		return w.currentStatus()
	}
	return model.WatchUnwatched
}

// List returns a snapshot of every watch.
func (wr *Watcher) List() []Info {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	infos := make([]Info, 0, len(wr.watches))
	for _, w := range wr.watches {
		infos = append(infos, w.info())
	}
	return infos
}

func (wr *Watcher) publish(t model.EventType, target Target, payload interface{}) {
	wr.broadcaster.Publish(model.Event{
		Type:      t,
		Context:   target.context(),
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// fileEventKind is the internal change classification before debouncing.
type fileEventKind int

const (
	fileAdded fileEventKind = iota
	fileChanged
	fileRemoved
)

// watch is the per-directory state machine.
type watch struct {
	target Target
	parent *Watcher
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     model.WatchStatus
	retryCount int
	lastError  error
	stopped    bool
	sub        subscription
	retryTimer *time.Timer
	debounce   map[string]*time.Timer
	pending    map[string]fileEventKind
}

func newWatch(target Target, parent *Watcher) *watch {
	ctx, cancel := context.WithCancel(context.Background())
	return &watch{
		target:   target,
		parent:   parent,
		ctx:      ctx,
		cancel:   cancel,
		status:   model.WatchUnwatched,
		debounce: make(map[string]*time.Timer),
		pending:  make(map[string]fileEventKind),
	}
}

// start verifies the directory and opens the subscription. Called once per
// watch instance.
func (w *watch) start() {
	w.mu.Lock()
	w.status = model.WatchStarting
	w.mu.Unlock()

	if err := verifyDir(w.target.BasePath); err != nil {
		// No retry budget consumed; manual restart required.
		w.mu.Lock()
		w.status = model.WatchFailed
		w.lastError = err
		w.mu.Unlock()
		w.parent.log.Warn("watch path unreachable",
			zap.String("path", w.target.BasePath), zap.Error(err))
		w.parent.publish(model.EventPathNotFound, w.target, map[string]string{
			"path":  w.target.BasePath,
			"error": err.Error(),
		})
		return
	}
	w.openSubscription()
}

// openSubscription replaces the active subscription. A retry replaces,
// never duplicates, the previous one.
func (w *watch) openSubscription() {
	cb := callbacks{
		onFile:    w.fileEvent,
		onError:   w.handleError,
		onHealthy: w.markHealthy,
	}

	var (
		sub subscription
		err error
	)
	switch w.parent.cfg.Mode {
	case ModeNotify:
		sub, err = newNotifySub(w.target.BasePath, cb, w.parent.log)
	default:
		sub = newPollSub(w.target.BasePath, w.parent.cfg, cb, w.parent.log)
	}
	if err != nil {
		w.handleError(err)
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		sub.stop()
		return
	}
	if w.sub != nil {
		w.sub.stop()
	}
	w.sub = sub
	w.status = model.WatchReady
	w.mu.Unlock()

	w.parent.log.Info("watching directory",
		zap.String("path", w.target.BasePath),
		zap.String("mode", w.parent.cfg.Mode),
		zap.String("context", w.target.context()))
}

// handleError is the transient-failure path: bounded retries with fixed
// backoff, then a terminal FAILED with exactly one watcher-failed event.
func (w *watch) handleError(err error) {
	w.mu.Lock()
	if w.stopped || w.status == model.WatchFailed {
		w.mu.Unlock()
		return
	}
	w.lastError = err
	w.retryCount++

	if w.retryCount >= w.parent.cfg.MaxRetries {
		w.status = model.WatchFailed
		w.stopSubLocked()
		retries := w.retryCount
		w.mu.Unlock()

		w.parent.log.Error("watch failed, retries exhausted",
			zap.String("path", w.target.BasePath),
			zap.Int("retries", retries), zap.Error(err))
		w.parent.publish(model.EventWatcherFailed, w.target, map[string]string{
			"path":  w.target.BasePath,
			"error": err.Error(),
		})
		return
	}

	w.status = model.WatchRetrying
	w.stopSubLocked()
	w.retryTimer = time.AfterFunc(w.parent.cfg.RetryBackoff, w.resubscribe)
	w.mu.Unlock()

	w.parent.log.Warn("watch error, retry scheduled",
		zap.String("path", w.target.BasePath),
		zap.Duration("backoff", w.parent.cfg.RetryBackoff),
		zap.Error(err))
}

// resubscribe fires from the retry timer. A failed verification routes back
// through handleError, consuming another attempt.
func (w *watch) resubscribe() {
	w.mu.Lock()
	if w.stopped || w.status != model.WatchRetrying {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if err := verifyDir(w.target.BasePath); err != nil {
		w.handleError(err)
		return
	}
	w.openSubscription()
}

// markHealthy resets the consecutive-failure counter after a good poll.
func (w *watch) markHealthy() {
	w.mu.Lock()
	w.retryCount = 0
	w.lastError = nil
	w.mu.Unlock()
}

// fileEvent is the subscription intake. Adds and changes are debounced per
// file; removals pass straight through. Never blocks on reprocessing.
func (w *watch) fileEvent(name string, kind fileEventKind) {
	if kind == fileRemoved {
		w.mu.Lock()
		stopped := w.stopped
		// A pending debounce for a removed file is moot.
		if t, ok := w.debounce[name]; ok {
			t.Stop()
			delete(w.debounce, name)
			delete(w.pending, name)
		}
		w.mu.Unlock()
		if !stopped {
			w.parent.publish(model.EventFileRemoved, w.target, w.filePayload(name))
		}
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	// An add followed by rapid writes stays an add.
	if prev, ok := w.pending[name]; !ok || prev != fileAdded {
		w.pending[name] = kind
	}
	if t, ok := w.debounce[name]; ok {
		t.Stop()
	}
	w.debounce[name] = time.AfterFunc(w.parent.cfg.DebounceQuiet, func() {
		w.debouncedFire(name)
	})
	w.mu.Unlock()
}

// debouncedFire runs once the quiet period elapses for a file. It emits the
// change event and kicks off asynchronous reprocessing.
func (w *watch) debouncedFire(name string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.debounce, name)
	kind := w.pending[name]
	delete(w.pending, name)
	w.mu.Unlock()

	eventType := model.EventFileChanged
	if kind == fileAdded {
		eventType = model.EventFileAdded
	}
	w.parent.publish(eventType, w.target, w.filePayload(name))

	go w.reprocess(name)
}

// reprocess runs the parse+classify pass for one file and broadcasts a
// critical finding. Runs off the intake path.
func (w *watch) reprocess(name string) {
	if w.parent.reprocessor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, w.parent.cfg.ReprocessTimeout)
	defer cancel()

	path := filepath.Join(w.target.BasePath, name)
	report, err := w.parent.reprocessor.Reprocess(ctx, w.target.UserID, w.target.AliasName, path)
	if err != nil {
		w.parent.log.Warn("reprocessing failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	if report.HasCritical() {
		w.parent.publish(model.EventCriticalFound, w.target, report)
	}
}

// stop tears the watch down: subscription closed, debounce and retry timers
// cancelled. A timer firing after stop no-ops on the stopped flag.
func (w *watch) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.status = model.WatchUnwatched
	w.stopSubLocked()
	if w.retryTimer != nil {
		w.retryTimer.Stop()
		w.retryTimer = nil
	}
	for name, t := range w.debounce {
		t.Stop()
		delete(w.debounce, name)
	}
	w.pending = make(map[string]fileEventKind)
	w.mu.Unlock()
	w.cancel()
}

func (w *watch) stopSubLocked() {
	if w.sub != nil {
		w.sub.stop()
		w.sub = nil
	}
}

func (w *watch) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *watch) currentStatus() model.WatchStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *watch) info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := Info{Target: w.target, Status: w.status, RetryCount: w.retryCount}
	if w.lastError != nil {
		info.LastError = w.lastError.Error()
	}
	return info
}

func (w *watch) filePayload(name string) map[string]string {
	return map[string]string{
		"file": name,
		"path": filepath.Join(w.target.BasePath, name),
	}
}

// verifyDir checks that the path exists, is a directory, and is readable.
func verifyDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	if _, err := os.ReadDir(path); err != nil {
		return err
	}
	return nil
}
