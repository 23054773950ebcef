package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

func (m *Manager) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		m.startPollingWatcher()
		return
	}

	if err := watcher.Add(m.configPath); err != nil {
		log.WithError(err).WithField("path", m.configPath).Warn("failed to watch config file, falling back to polling")
		watcher.Close()
		m.startPollingWatcher()
		return
	}

	// Watch the directory too so atomic writes (rename) are caught.
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		log.WithError(err).Warn("failed to watch config directory")
	}

	log.WithField("path", m.configPath).Info("file watcher started using fsnotify")

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		const debounceDuration = 100 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == m.configPath && (event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0) {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(debounceDuration, m.checkAndReload)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("file watcher error")

			case <-m.stopCh:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

func (m *Manager) startPollingWatcher() {
	ticker := time.NewTicker(5 * time.Second)
	log.WithField("interval", "5s").Info("file watcher started using polling")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkAndReload()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) checkAndReload() {
	if m.configPath == "" {
		return
	}
	info, err := os.Stat(m.configPath)
	if err != nil {
		return
	}
	if !info.ModTime().After(m.lastMod) {
		return
	}

	if err := m.load(); err != nil {
		log.WithError(err).WithField("path", m.configPath).Warn("failed to reload config")
		return
	}
	m.mergeEnvVars()

	snapshot := m.Get()
	m.mu.RLock()
	callbacks := make([]func(*FileConfig), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
	log.WithField("path", m.configPath).Info("configuration reloaded")
}
