// Package reload re-runs the preprocessing pipeline when its inputs change.
//
// A Manager watches the base configuration file, its override-fragment
// directories and the coordination-service change signal. Filesystem events
// are debounced; however many triggers arrive at once, concurrent runs are
// coalesced so subscribers see a single reload with the latest content.
// Each subscriber callback receives an Event describing what fired and what
// the pipeline produced.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"conftree/internal/coordination"
	"conftree/internal/document"
	"conftree/internal/processor"
	"conftree/pkg/logging"
)

const logSubsystem = "Reload"

const defaultDebounce = 500 * time.Millisecond

// Trigger identifies what caused a reload.
type Trigger string

const (
	// TriggerInitial is the load performed by Start itself.
	TriggerInitial Trigger = "initial"
	// TriggerFile is a filesystem change under a watched path.
	TriggerFile Trigger = "file"
	// TriggerCoordination is a coordination-service change notification.
	TriggerCoordination Trigger = "coordination"
	// TriggerManual is an explicit Reload call.
	TriggerManual Trigger = "manual"
)

// Event describes one completed reload attempt.
type Event struct {
	// ID uniquely identifies the attempt across log lines and callbacks.
	ID        string
	Trigger   Trigger
	Path      string // changed path for file triggers, otherwise empty
	Config    *processor.LoadedConfig
	Err       error
	Timestamp time.Time
}

// Options configures a Manager.
type Options struct {
	// Cache supplies from_zk values and change notifications. May be nil.
	Cache coordination.Cache
	// FallbackToSnapshot opts failed runs into serving the last snapshot
	// when the failure was a coordination error.
	FallbackToSnapshot bool
	// SaveSnapshot persists every successful (non-fallback) result.
	SaveSnapshot bool
	// Debounce is how long to wait for further filesystem changes before
	// reloading. Zero means 500ms.
	Debounce time.Duration
}

// Manager owns the reload loop for one processor.
type Manager struct {
	proc *processor.Processor
	opts Options

	coordSignal chan struct{}
	group       singleflight.Group

	mu        sync.RWMutex
	running   bool
	current   *processor.LoadedConfig
	callbacks []func(Event)
	pending   map[string]*time.Timer

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a Manager for the given processor.
func NewManager(proc *processor.Processor, opts Options) *Manager {
	if opts.Debounce == 0 {
		opts.Debounce = defaultDebounce
	}
	return &Manager{
		proc:        proc,
		opts:        opts,
		coordSignal: make(chan struct{}, 1),
		pending:     make(map[string]*time.Timer),
	}
}

// OnReload registers a callback invoked after every reload attempt,
// successful or not. Callbacks run on the reloading goroutine and must not
// block. Registration is only effective before Start.
func (m *Manager) OnReload(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Current returns the most recently loaded configuration, or nil before the
// first successful load.
func (m *Manager) Current() *processor.LoadedConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Start performs the initial load, sets up the filesystem watches and begins
// reacting to changes. It returns the initial load's error, if any; the
// watches stay active either way so a later change can repair a broken
// config.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("reload manager already started")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	watchDirs := append([]string{filepath.Dir(m.proc.Path())}, processor.OverrideDirs(m.proc.Path())...)
	for _, dir := range watchDirs {
		if err := watcher.Add(dir); err != nil {
			logging.Debug(logSubsystem, "Not watching %s: %v", dir, err)
		}
	}

	m.wg.Add(2)
	go m.watchFiles(ctx)
	go m.watchCoordination(ctx)

	_, initialErr := m.reload(TriggerInitial, "")
	return initialErr
}

// Stop tears down the watches and waits for in-flight work to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	for path, timer := range m.pending {
		timer.Stop()
		delete(m.pending, path)
	}
	m.mu.Unlock()

	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

// Reload triggers a reload immediately, bypassing debouncing. It returns the
// resulting configuration or the pipeline error.
func (m *Manager) Reload() (*processor.LoadedConfig, error) {
	return m.reload(TriggerManual, "")
}

func (m *Manager) watchFiles(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !m.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.debounce(event.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(logSubsystem, "Watcher error: %v", err)
		}
	}
}

func (m *Manager) watchCoordination(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.coordSignal:
			m.reload(TriggerCoordination, "")
		}
	}
}

// relevant filters watcher noise down to files that can affect the result:
// the base file itself, a snapshot excluded, or an eligible fragment in one
// of the override directories.
func (m *Manager) relevant(path string) bool {
	if processor.IsPreprocessedFile(path) {
		return false
	}
	if path == m.proc.Path() {
		return true
	}
	dir := filepath.Dir(path)
	for _, overrideDir := range processor.OverrideDirs(m.proc.Path()) {
		if dir != overrideDir {
			continue
		}
		name := filepath.Base(path)
		if strings.HasPrefix(strings.TrimSuffix(name, filepath.Ext(name)), ".") {
			return false
		}
		return filepath.Ext(name) != "" && document.DetectFormat(name) != document.FormatUnknown
	}
	return false
}

// debounce schedules a reload for path, postponing it while further events
// for the same path keep arriving.
func (m *Manager) debounce(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if timer, ok := m.pending[path]; ok {
		timer.Reset(m.opts.Debounce)
		return
	}
	m.pending[path] = time.AfterFunc(m.opts.Debounce, func() {
		m.mu.Lock()
		delete(m.pending, path)
		running := m.running
		m.mu.Unlock()
		if running {
			m.reload(TriggerFile, path)
		}
	})
}

// reload runs the pipeline once. Concurrent callers are coalesced: whichever
// run is in flight serves every waiter.
func (m *Manager) reload(trigger Trigger, path string) (*processor.LoadedConfig, error) {
	result, err, _ := m.group.Do("reload", func() (interface{}, error) {
		return m.proc.LoadWithCoordination(m.opts.Cache, m.coordSignal, m.opts.FallbackToSnapshot)
	})

	event := Event{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Path:      path,
		Err:       err,
		Timestamp: time.Now(),
	}

	var loaded *processor.LoadedConfig
	if err == nil {
		loaded = result.(*processor.LoadedConfig)
		event.Config = loaded

		m.mu.Lock()
		m.current = loaded
		m.mu.Unlock()

		if m.opts.SaveSnapshot && !loaded.LoadedFromFallback {
			m.proc.SavePreprocessed(loaded)
		}
		logging.Info(logSubsystem, "Reloaded configuration '%s' (trigger=%s, id=%s)", m.proc.Path(), trigger, event.ID)
	} else {
		logging.Error(logSubsystem, err, "Reload of '%s' failed (trigger=%s, id=%s)", m.proc.Path(), trigger, event.ID)
	}

	m.mu.RLock()
	callbacks := append(([]func(Event))(nil), m.callbacks...)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn(event)
	}

	return loaded, err
}
