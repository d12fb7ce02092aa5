package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultWatchInterval is how often a [Watcher] looks at the file.
const defaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes and hands the
// previous and the new config to a callback. The application uses it so
// that edited lesson and learner values apply to the next session.
//
// A file that fails to parse or validate is logged and skipped; the last
// good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// reload serializes Reload calls from the poll loop and from callers.
	reload sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fileStamp
}

// fileStamp identifies one version of the file. modTime and size are
// checked first so that an unchanged file is never read.
type fileStamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
// Call [Watcher.Stop] to end polling.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	cfg, stamp, err := w.read(info)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	w.current, w.seen = cfg, stamp

	go w.loop()
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file now. It reports whether a new config was applied.
// An error means the file could not be read or is invalid; the current
// config is left unchanged.
func (w *Watcher) Reload() (bool, error) {
	w.reload.Lock()
	defer w.reload.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.modTime) && info.Size() == seen.size {
		return false, nil
	}

	cfg, stamp, err := w.read(info)
	switch {
	case errors.Is(err, errUnchanged):
		w.mu.Lock()
		w.seen.modTime, w.seen.size = stamp.modTime, stamp.size
		w.mu.Unlock()
		return false, nil
	case err != nil:
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current, w.seen = cfg, stamp
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// errUnchanged is returned by read when the content matches the last
// applied version.
var errUnchanged = errors.New("config: unchanged")

func (w *Watcher) read(info os.FileInfo) (*Config, fileStamp, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	stamp := fileStamp{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}

	w.mu.Lock()
	same := w.current != nil && stamp.sum == w.seen.sum
	w.mu.Unlock()
	if same {
		return nil, stamp, errUnchanged
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, stamp, nil
}
