package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("rule watcher is closed")

// Watcher reinstalls a rule file whenever it changes on disk and removes
// its rules when the file is deleted.
//
// Parent directories are watched rather than the files themselves so that
// editors which save by renaming a temporary file are still observed.
type Watcher struct {
	installer *Installer
	logger    *logging.Logger
	delay     time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	files   map[string]bool // explicitly named files
	dirs    map[string]bool // directories whose rule files are all tracked
	watched map[string]bool // directories registered with fsnotify
	pending map[string]*time.Timer
	closed  bool

	// OnReload, when set, is called after each reload attempt.
	OnReload func(path string, err error)

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher that reinstalls through installer.
func NewWatcher(installer *Installer, delay time.Duration, logger *logging.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		installer: installer,
		logger:    logger.WithComponent("rules-watcher"),
		delay:     delay,
		fsw:       fsw,
		files:     make(map[string]bool),
		dirs:      make(map[string]bool),
		watched:   make(map[string]bool),
		pending:   make(map[string]*time.Timer),
		closeCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Watch tracks a rule file or a directory of rule files.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	dir := abs
	if info.IsDir() {
		w.dirs[abs] = true
	} else {
		w.files[abs] = true
		dir = filepath.Dir(abs)
	}

	if !w.watched[dir] {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		w.watched[dir] = true
	}
	return nil
}

// Close stops watching and waits for any reload in progress. Installed
// rules are left in place.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error: %v", err)
		}
	}
}

// tracked must be called with mu held.
func (w *Watcher) tracked(path string) bool {
	if w.files[path] {
		return true
	}
	return IsRuleFile(path) && w.dirs[filepath.Dir(path)]
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.tracked(path) {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.delay, func() { w.reload(path) })
}

// reload decides from the file's current state, so a rename-over-save
// burst ends in a single install. Close waits for a running reload.
func (w *Watcher) reload(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	defer w.wg.Done()
	delete(w.pending, path)
	callback := w.OnReload
	w.mu.Unlock()

	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if w.installer.Uninstall(path) {
			w.logger.Info("rule file %s removed", path)
		}
	} else {
		var ids []string
		ids, err = w.installer.Install(path)
		if err != nil {
			w.logger.Error("reloading %s: %v", path, err)
		} else {
			w.logger.Info("reloaded %s (%d rules)", path, len(ids))
		}
	}

	if callback != nil {
		callback(path, err)
	}
}
