package config

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a config file on write, swapping in the freshly
// parsed Config atomically so in-flight readers never see a half-parsed
// document. A failed reload is logged and the previous Config is kept.
type Watcher struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once, then starts watching it for writes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, cfg: cfg, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops the watch goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("[Config] reload %s failed, keeping previous config: %v", w.path, err)
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			log.Printf("[Config] reloaded %s", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] watch error on %s: %v", w.path, err)
		}
	}
}
