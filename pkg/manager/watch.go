package manager

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"kubeportal/pkg/logger"
)

// configWatcher watches the directory containing the config file, not the
// file itself: editors and atomic renames can replace the inode, which
// fsnotify would otherwise lose track of. It suppresses events caused by
// the manager's own writes via a content hash recorded right after each
// Save.
type configWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func()

	mu       sync.Mutex
	selfHash [sha256.Size]byte
	hasSelf  bool

	done chan struct{}
}

func newConfigWatcher(path string, onChange func()) (*configWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watching config directory %s: %w", dir, err)
	}

	w := &configWatcher{
		fsWatcher: fsWatcher,
		path:      path,
		onChange:  onChange,
		done:      make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

func (w *configWatcher) loop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}

			logger.Log(logger.LevelWarn, nil, err, "config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *configWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	if w.isSelfWrite() {
		return
	}

	w.onChange()
}

// isSelfWrite reports whether the file's current content matches the hash
// recorded by the most recent markWritten call.
func (w *configWatcher) isSelfWrite() bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false
	}

	sum := sha256.Sum256(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.hasSelf && sum == w.selfHash
}

// markWritten records the hash of bytes the manager itself just persisted,
// so the resulting filesystem event doesn't trigger a self-reload.
func (w *configWatcher) markWritten(data []byte) {
	if data == nil {
		return
	}

	sum := sha256.Sum256(data)

	w.mu.Lock()
	w.selfHash = sum
	w.hasSelf = true
	w.mu.Unlock()
}

func (w *configWatcher) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}

	w.fsWatcher.Close()
}
