package supervisor

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a sandbox's config file and flags it stale on any
// write or create event, so a caller can check Stale instead of polling
// mtimes.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	stale   atomic.Bool
	done    chan struct{}
}

// WatchConfigFile starts watching path for changes.
func WatchConfigFile(path string) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	cw := &ConfigWatcher{watcher: w, path: path, done: make(chan struct{})}
	go cw.watchLoop()
	return cw, nil
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cw.stale.Store(true)
			}
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stale reports whether the config file has changed since the last
// ClearStale call.
func (cw *ConfigWatcher) Stale() bool { return cw.stale.Load() }

// ClearStale resets the stale flag after the caller has reconciled.
func (cw *ConfigWatcher) ClearStale() { cw.stale.Store(false) }

// Close stops watching.
func (cw *ConfigWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}
