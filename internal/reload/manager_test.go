package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conftree/internal/coordination"
	"conftree/internal/processor"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// watchCapturingCache hands out values from an inner map and remembers the
// watch channel of the last Get, so tests can fire change notifications.
type watchCapturingCache struct {
	mu     sync.Mutex
	values map[string]string
	watch  chan<- struct{}
}

func (c *watchCapturingCache) Get(key string, watch chan<- struct{}) (coordination.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if watch != nil {
		c.watch = watch
	}
	data, ok := c.values[key]
	return coordination.Value{Exists: ok, Data: data}, nil
}

func (c *watchCapturingCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *watchCapturingCache) signal() {
	c.mu.Lock()
	w := c.watch
	c.mu.Unlock()
	if w != nil {
		w <- struct{}{}
	}
}

func startManager(t *testing.T, base string, opts Options) (*Manager, <-chan Event) {
	t.Helper()
	m := NewManager(processor.New(base), opts)
	events := make(chan Event, 16)
	m.OnReload(func(e Event) { events <- e })

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	// Swallow the initial-load event.
	select {
	case e := <-events:
		require.Equal(t, TriggerInitial, e.Trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial reload event")
	}
	return m, events
}

func waitEvent(t *testing.T, events <-chan Event, trigger Trigger) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Trigger == trigger {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s reload event", trigger)
		}
	}
}

func TestManagerInitialLoad(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><v>1</v></conftree>`)

	m, _ := startManager(t, base, Options{Debounce: 20 * time.Millisecond})

	current := m.Current()
	require.NotNil(t, current)
	assert.Equal(t, "1", current.Tree.Root().SelectElement("v").Text())
}

func TestManagerReloadsOnFragmentChange(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><v>1</v></conftree>`)
	// The override dir must exist before Start for the watch to attach.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf.d"), 0755))

	m, events := startManager(t, base, Options{Debounce: 20 * time.Millisecond})

	writeFile(t, filepath.Join(dir, "conf.d", "override.xml"), `<conftree><v>2</v></conftree>`)

	e := waitEvent(t, events, TriggerFile)
	require.NoError(t, e.Err)
	assert.Equal(t, "2", m.Current().Tree.Root().SelectElement("v").Text())
}

func TestManagerReloadsOnBaseChange(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><v>1</v></conftree>`)

	m, events := startManager(t, base, Options{Debounce: 20 * time.Millisecond})

	writeFile(t, base, `<conftree><v>3</v></conftree>`)

	e := waitEvent(t, events, TriggerFile)
	require.NoError(t, e.Err)
	assert.Equal(t, "3", m.Current().Tree.Root().SelectElement("v").Text())
}

func TestManagerCoordinationTrigger(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><limit from_zk="/cfg/limit"/></conftree>`)

	cache := &watchCapturingCache{values: map[string]string{"/cfg/limit": "10"}}
	m, events := startManager(t, base, Options{Cache: cache, Debounce: 20 * time.Millisecond})
	assert.Equal(t, "10", m.Current().Tree.Root().SelectElement("limit").Text())

	cache.set("/cfg/limit", "20")
	cache.signal()

	e := waitEvent(t, events, TriggerCoordination)
	require.NoError(t, e.Err)
	assert.Equal(t, "20", m.Current().Tree.Root().SelectElement("limit").Text())
}

func TestManagerManualReload(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><v>1</v></conftree>`)

	m, events := startManager(t, base, Options{Debounce: 20 * time.Millisecond})

	loaded, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, "1", loaded.Tree.Root().SelectElement("v").Text())

	e := waitEvent(t, events, TriggerManual)
	assert.NotEmpty(t, e.ID)
}

func TestManagerFailedReloadKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><v>1</v></conftree>`)

	m, events := startManager(t, base, Options{Debounce: 20 * time.Millisecond})

	writeFile(t, base, `<conftree><v>broken`)

	e := waitEvent(t, events, TriggerFile)
	require.Error(t, e.Err)
	// The previous good configuration stays current.
	require.NotNil(t, m.Current())
	assert.Equal(t, "1", m.Current().Tree.Root().SelectElement("v").Text())
}

func TestManagerSavesSnapshots(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree><v>1</v></conftree>`)

	proc := processor.New(base, processor.WithSnapshotDir(dir))
	m := NewManager(proc, Options{SaveSnapshot: true, Debounce: 20 * time.Millisecond})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NotEmpty(t, proc.SnapshotPath())
	_, err := os.Stat(proc.SnapshotPath())
	assert.NoError(t, err)
}

func TestRelevantFiltering(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.xml")
	writeFile(t, base, `<conftree/>`)
	m := NewManager(processor.New(base), Options{})

	tests := []struct {
		path string
		want bool
	}{
		{base, true},
		{filepath.Join(dir, "config.d", "a.xml"), true},
		{filepath.Join(dir, "conf.d", "a.yaml"), true},
		{filepath.Join(dir, "conf.d", ".hidden.xml"), false},
		{filepath.Join(dir, "conf.d", "notes.txt"), false},
		{filepath.Join(dir, "other.xml"), false},
		{filepath.Join(dir, "config-preprocessed.xml"), false},
	}
	for _, tt := range tests {
		if got := m.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
