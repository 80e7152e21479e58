package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls the config file of a running recorder. Each valid edit is
// compared with the previous config and the resulting [ConfigDiff] is
// reported, so the log level can change mid-session and settings that need
// a restart can be flagged. Invalid edits are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ConfigDiff, *Config)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// fileStamp identifies one version of the file. The mtime check skips
// hashing unchanged files; the hash ignores touches.
type fileStamp struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher reporting later edits to
// onChange. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the last valid config read.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Check reads the file once. It reports whether a new config was adopted;
// onChange is only called when that config differs in a setting
// [Diff] tracks. An unreadable or invalid file returns an error and keeps
// the current config.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.stamp.mtime)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if stamp.hash == w.stamp.hash {
		w.stamp = stamp
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("configuration reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onChange != nil && !d.Empty() {
		w.onChange(d, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
