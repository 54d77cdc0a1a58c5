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

// ChangeFunc receives the newly loaded config and what changed relative to
// the previous one.
type ChangeFunc func(cfg *Config, d ConfigDiff)

// Watcher reloads a config file when it changes and reports the job-level
// difference. It polls the modification time and content hash; edits that
// leave the parsed config unchanged (comments, reordering of keys) are
// absorbed without a callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	state   fileState
}

// fileState is what change detection compares between polls.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for reload diagnostics. The default is
// slog.Default().
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.state = st
	return w, nil
}

// Current returns the most recently loaded valid config.
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
			if _, _, err := w.Check(); err != nil {
				w.log.Warn("config watcher: reload failed, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Check looks at the file once. It reports changed=true and the diff when a
// new valid config with a semantic difference was loaded; onChange has been
// called by then. An invalid file returns the load error and the previous
// config stays current.
func (w *Watcher) Check() (d ConfigDiff, changed bool, err error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, false, err
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return ConfigDiff{}, false, nil
	}

	cfg, st, err := readConfig(w.path)
	if err != nil {
		return ConfigDiff{}, false, err
	}

	w.mu.Lock()
	if st.hash == w.state.hash {
		w.state = st
		w.mu.Unlock()
		return ConfigDiff{}, false, nil
	}
	d = Diff(w.current, cfg)
	w.current = cfg
	w.state = st
	w.mu.Unlock()

	if d.Empty() {
		w.log.Debug("config watcher: file changed without effect", "path", w.path)
		return d, false, nil
	}
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"job_changes", len(d.JobChanges),
		"log_level_changed", d.LogLevelChanged,
	)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(cfg, d)
	}
	return d, true, nil
}

// readConfig loads and validates path and returns its state for change
// detection.
func readConfig(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
