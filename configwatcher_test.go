package appfabric

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcherEmitsChangeEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0o600))

	bus := newTestBus(t)
	var changes atomic.Int64
	_, err := bus.Subscribe(EventConfigChanged, func(ctx context.Context, event Event) error {
		changes.Add(1)
		return nil
	})
	require.NoError(t, err)

	watcher := NewConfigWatcher(path, bus, NoopLogger{})
	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o600))

	assert.Eventually(t, func() bool {
		return changes.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConfigWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0o600))

	bus := newTestBus(t)
	var changes atomic.Int64
	_, err := bus.Subscribe(EventConfigChanged, func(ctx context.Context, event Event) error {
		changes.Add(1)
		return nil
	})
	require.NoError(t, err)

	watcher := NewConfigWatcher(path, bus, NoopLogger{})
	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, changes.Load())
}

func TestConfigWatcherDoubleStartFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0o600))

	watcher := NewConfigWatcher(path, nil, NoopLogger{})
	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	err := watcher.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestConfigWatcherStopWithoutStart(t *testing.T) {
	watcher := NewConfigWatcher("nowhere.yaml", nil, NoopLogger{})
	assert.NoError(t, watcher.Stop())
}
