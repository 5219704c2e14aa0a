package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("config")

// Watcher reloads the config file on change and hands every valid new
// version to the callback. Invalid edits are logged and skipped; the last
// good config stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(Config)
	closed   chan struct{}
}

// Watch starts watching path. The parent directory is watched rather than
// the file itself so editors that replace the file (write to temp, rename)
// do not silently detach the watch.
func Watch(path string, onReload func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		onReload: onReload,
		closed:   make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) Close() error {
	close(w.closed)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warnw("config reload skipped", "path", w.path, "err", err)
				continue
			}
			log.Infow("config reloaded", "path", w.path)
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("config watcher error", "err", err)
		}
	}
}
