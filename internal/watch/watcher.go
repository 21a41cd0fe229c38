// Package watch turns file changes into serialised sync cycles and fans the
// results out to hot-reload consumers.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/logger"
)

// skippedDirs are never registered with the watcher.
var skippedDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"build":        true,
	"dist":         true,
	"venv":         true,
}

// FileWatcherConfig selects what to watch.
type FileWatcherConfig struct {
	Paths    []string
	Patterns []string
	Ignore   []string
	Debounce time.Duration
}

// FileWatcher monitors file system changes and reports debounced batches.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	patterns  []string
	ignored   []string
	logger    *zap.SugaredLogger
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewFileWatcher creates a watcher that calls onChange with each batch of changed files.
func NewFileWatcher(config FileWatcherConfig, onChange func([]string), l *zap.SugaredLogger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	debounce := config.Debounce
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	fw := &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(debounce),
		patterns:  config.Patterns,
		ignored:   config.Ignore,
		logger:    logger.OrNop(l),
		stopChan:  make(chan struct{}),
	}
	fw.debouncer.SetCallback(onChange)

	for _, p := range config.Paths {
		if err := fw.add(p); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}
	return fw, nil
}

// add registers a file, or a directory and everything below it.
func (fw *FileWatcher) add(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			fw.logger.Warnw("Watch path does not exist, skipping", "path", root)
			return nil
		}
		return errors.Wrapf(err, "failed to stat %s", root)
	}
	if !info.IsDir() {
		return errors.Wrapf(fw.watcher.Add(root), "failed to watch %s", root)
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && (skippedDirs[info.Name()] || isHidden(info.Name())) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Warnw("Could not watch directory", "path", path, "error", err)
			return nil
		}
		fw.logger.Debugw("Watching directory", "path", path)
		return nil
	})
}

// Start begins processing events in the background.
func (fw *FileWatcher) Start() {
	fw.wg.Add(1)
	go fw.watch()
}

// Stop stops the watcher and discards any pending batch.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopChan)
		err = fw.watcher.Close()
		fw.wg.Wait()
		fw.debouncer.Stop()
	})
	return err
}

func (fw *FileWatcher) watch() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warnw("File watcher error", "error", err)

		case <-fw.stopChan:
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if fw.shouldIgnore(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.add(event.Name); err != nil {
				fw.logger.Warnw("Could not watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !fw.matchesPattern(event.Name) {
		return
	}

	fw.logger.Debugw("File changed", "path", event.Name, "op", event.Op.String())
	fw.debouncer.Add(event.Name)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// shouldIgnore checks if a file path should be ignored
func (fw *FileWatcher) shouldIgnore(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if skippedDirs[part] {
			return true
		}
	}

	baseName := filepath.Base(path)
	if isHidden(baseName) {
		return true
	}

	for _, pattern := range fw.ignored {
		if matched, _ := filepath.Match(pattern, baseName); matched {
			return true
		}
	}
	return false
}

// matchesPattern checks if a file matches any of the watch patterns
func (fw *FileWatcher) matchesPattern(path string) bool {
	if len(fw.patterns) == 0 {
		return true
	}

	base := filepath.Base(path)
	for _, pattern := range fw.patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// Debouncer collects file changes and triggers callbacks after a quiet period.
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	files    map[string]struct{}
	mutex    sync.Mutex
	callback func([]string)
	stopped  bool
}

// NewDebouncer creates a new debouncer instance
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		files:    make(map[string]struct{}),
	}
}

// Add records a file and restarts the quiet period.
func (d *Debouncer) Add(file string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}
	d.files[file] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.files) == 0 || d.stopped {
		d.mutex.Unlock()
		return
	}
	files := sortedKeys(d.files)
	d.files = make(map[string]struct{})
	callback := d.callback
	d.mutex.Unlock()

	if callback != nil {
		callback(files)
	}
}

// SetCallback sets the callback function
func (d *Debouncer) SetCallback(callback func([]string)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.callback = callback
}

// Stop cancels any pending flush.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.stopped = true
	d.files = make(map[string]struct{})
}
