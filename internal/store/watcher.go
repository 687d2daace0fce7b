package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"remoteauth/pkg/logging"
)

const (
	// DefaultDebounceInterval is the time to wait after the last change
	// before notifying.
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultWatchInterval is the polling interval used when fsnotify is unavailable.
	DefaultWatchInterval = 2 * time.Second
)

// WatcherConfig holds configuration for the partition watcher.
type WatcherConfig struct {
	// Dir is the server partition directory to watch.
	Dir string

	// WatchInterval is the fallback polling interval.
	WatchInterval time.Duration

	// Debounce is the quiet period before OnChange fires.
	Debounce time.Duration

	// OnChange is called once per changed record kind after the debounce
	// period. Another process saving or deleting a record triggers it, as do
	// writes from this process.
	OnChange func(kind RecordKind)
}

// Watcher monitors a server partition for record changes made by other
// processes. It uses fsnotify with a fallback to polling for environments
// where fsnotify is not available.
type Watcher struct {
	mu sync.Mutex

	config WatcherConfig

	// fsWatcher is nil when polling
	fsWatcher *fsnotify.Watcher

	stopCh  chan struct{}
	running bool

	// lastSeen tracks modification times for fallback polling; a zero time
	// means the record was absent at the last poll
	lastSeen map[RecordKind]time.Time

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	pending       map[RecordKind]struct{}
}

// NewWatcher creates a partition watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.WatchInterval <= 0 {
		config.WatchInterval = DefaultWatchInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	return &Watcher{
		config:   config,
		lastSeen: make(map[RecordKind]time.Time),
		pending:  make(map[RecordKind]struct{}),
	}
}

// Start begins watching. The partition directory is created if needed so
// that the first write from another process is observed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.config.Dir, dirMode); err != nil {
		return err
	}

	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("StoreWatcher", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges(w.stopCh)
		return nil
	}

	if err := watcher.Add(w.config.Dir); err != nil {
		logging.Warn("StoreWatcher", "Failed to watch directory %s, falling back to polling: %v",
			w.config.Dir, err)
		watcher.Close()
		go w.pollForChanges(w.stopCh)
		return nil
	}
	w.fsWatcher = watcher

	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)

	logging.Debug("StoreWatcher", "Started watching %s for credential changes", w.config.Dir)
	return nil
}

// processEvents handles fsnotify events.
// Channels are passed in to avoid racing with Stop().
func (w *Watcher) processEvents(stopCh <-chan struct{}, eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("StoreWatcher", err, "fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	kind, ok := RecordKindForFile(filepath.Base(event.Name))
	if !ok {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	logging.Debug("StoreWatcher", "Credential record changed: %s (%s)", kind, event.Op)
	w.triggerDebounced(kind)
}

// triggerDebounced collects changed kinds and fires OnChange once the
// partition has been quiet for the debounce period.
func (w *Watcher) triggerDebounced(kind RecordKind) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	w.pending[kind] = struct{}{}

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.debounceMu.Lock()
		kinds := make([]RecordKind, 0, len(w.pending))
		for k := range w.pending {
			kinds = append(kinds, k)
		}
		w.pending = make(map[RecordKind]struct{})
		w.debounceMu.Unlock()

		w.mu.Lock()
		running := w.running
		callback := w.config.OnChange
		w.mu.Unlock()

		if !running || callback == nil {
			return
		}
		for _, k := range kinds {
			callback(k)
		}
	})
}

func (w *Watcher) pollForChanges(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.config.WatchInterval)
	defer ticker.Stop()

	w.checkForChanges()

	for {
		select {
		case <-stopCh:
			return

		case <-ticker.C:
			for _, kind := range w.checkForChanges() {
				logging.Debug("StoreWatcher", "Credential record %s changed (polling)", kind)
				w.triggerDebounced(kind)
			}
		}
	}
}

// checkForChanges compares record modification times with the last poll.
// Appearance and disappearance both count as changes.
func (w *Watcher) checkForChanges() []RecordKind {
	var changed []RecordKind

	for _, kind := range []RecordKind{RecordTokens, RecordClient, RecordVerifier} {
		var current time.Time
		if info, err := os.Stat(filepath.Join(w.config.Dir, kind.FileName())); err == nil {
			current = info.ModTime()
		}

		last, seen := w.lastSeen[kind]
		if seen && !current.Equal(last) {
			changed = append(changed, kind)
		}
		w.lastSeen[kind] = current
	}

	return changed
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("StoreWatcher", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}

	logging.Debug("StoreWatcher", "Stopped watching %s", w.config.Dir)
	return nil
}

// IsRunning returns whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
