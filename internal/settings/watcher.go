package settings

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Store when its file is edited by something other than
// the store itself (an operator editing settings.json by hand, or another
// bot process sharing the file).
//
// The containing directory is watched rather than the file, because atomic
// saves replace the file's inode and a file watch would go stale.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *log.Logger
	onReload func(Settings)

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	wg    sync.WaitGroup
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce collapses bursts of events into one reload. Default 250ms.
	Debounce time.Duration
	// OnReload is called after an external edit was loaded.
	OnReload func(Settings)
	Logger   *log.Logger
}

// NewWatcher starts watching the store's file.
func NewWatcher(store *Store, opts WatcherOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = store.logger
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings: create watcher: %w", err)
	}
	dir := filepath.Dir(store.Path())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	w := &Watcher{
		store:    store,
		watcher:  fw,
		debounce: opts.Debounce,
		logger:   logger.WithPrefix("settings-watch"),
		onReload: opts.OnReload,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.reload)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	changed, err := w.store.ReloadIfChanged()
	if err != nil {
		// Keep the last good snapshot; the next edit gets another chance.
		w.logger.Error("reload after external edit failed", "path", w.store.Path(), "err", err)
		return
	}
	if !changed {
		return
	}
	w.logger.Info("settings reloaded after external edit", "path", w.store.Path())
	if w.onReload != nil {
		w.onReload(w.store.Snapshot())
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
