package workspace

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// registryReloadDelay coalesces the burst of events an atomic replace emits.
const registryReloadDelay = 150 * time.Millisecond

// RegistryWatcher reloads the manager's registry cache whenever
// workspaces.json is replaced on disk by another process. If the new file
// cannot be parsed the registry is repaired from the workspace directories.
type RegistryWatcher struct {
	manager  *Manager
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	wg       sync.WaitGroup
	onReload func(error)

	closeOnce sync.Once
}

// WatchRegistry starts watching the workspaces root. onReload, if non-nil,
// is called after every reload attempt with its result.
func (m *Manager) WatchRegistry(onReload func(error)) (*RegistryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create registry watcher: %w", err)
	}
	// Watch the directory: the atomic rename replaces the file inode.
	if err := watcher.Add(m.root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", m.root, err)
	}

	rw := &RegistryWatcher{
		manager:  m,
		watcher:  watcher,
		stop:     make(chan struct{}),
		onReload: onReload,
	}
	rw.wg.Add(1)
	go rw.run()
	return rw, nil
}

func (rw *RegistryWatcher) run() {
	defer rw.wg.Done()

	registryPath := filepath.Join(rw.manager.root, RegistryFileName)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-rw.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != registryPath {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(registryReloadDelay)
			} else {
				timer.Reset(registryReloadDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			rw.reload()

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.manager.log.Error("registry watcher error: %v", err)
		}
	}
}

func (rw *RegistryWatcher) reload() {
	err := rw.manager.ReloadRegistry()
	if err != nil {
		rw.manager.log.Warn("Registry changed on disk but could not be loaded, repairing: %v", err)
		if _, repairErr := rw.manager.RepairRegistry(); repairErr != nil {
			err = fmt.Errorf("failed to repair registry: %w", repairErr)
		} else {
			err = nil
		}
	} else {
		rw.manager.log.Debug("Reloaded registry after external change")
	}

	if rw.onReload != nil {
		rw.onReload(err)
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (rw *RegistryWatcher) Close() error {
	var err error
	rw.closeOnce.Do(func() {
		close(rw.stop)
		err = rw.watcher.Close()
		rw.wg.Wait()
	})
	return err
}
