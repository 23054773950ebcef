package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manager owns the configuration file and its hot reload.
type Manager struct {
	mu         sync.RWMutex
	config     *FileConfig
	configPath string
	stopCh     chan struct{}
	stopOnce   sync.Once
	onChange   []func(*FileConfig)
	lastMod    time.Time
}

// NewManager loads the configuration and starts watching the file. An empty
// path searches the usual locations; a missing file yields defaults plus
// environment overrides.
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		locations := []string{
			"modelgate.yaml",
			"modelgate.yml",
			"modelgate.json",
			filepath.Join(os.Getenv("HOME"), ".modelgate", "config.yaml"),
			"/etc/modelgate/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}
	if strings.HasPrefix(configPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		configPath = filepath.Join(home, configPath[1:])
	}

	m := &Manager{
		configPath: configPath,
		stopCh:     make(chan struct{}),
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) || configPath == "" {
			m.config = defaultConfig()
			log.WithField("path", configPath).Warn("using default configuration (no config file found)")
		} else {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	m.mergeEnvVars()

	if m.configPath != "" {
		if _, err := os.Stat(m.configPath); err == nil {
			m.startWatcher()
		}
	}
	return m, nil
}

// Get returns a snapshot of the current configuration.
func (m *Manager) Get() *FileConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.clone()
}

// OnChange registers a callback invoked after each successful reload.
func (m *Manager) OnChange(fn func(*FileConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Close stops the file watcher.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) load() error {
	if m.configPath == "" {
		return os.ErrNotExist
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	config := defaultConfig()
	switch strings.ToLower(filepath.Ext(m.configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			if err := json.Unmarshal(data, config); err != nil {
				return fmt.Errorf("parse config file (tried YAML and JSON)")
			}
		}
	}

	if info, err := os.Stat(m.configPath); err == nil {
		m.lastMod = info.ModTime()
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	log.WithField("path", m.configPath).Info("configuration loaded")
	return nil
}

// mergeEnvVars applies MODELGATE_* overrides on top of the file. Per-provider
// key lists come from MODELGATE_KEYS_<NAME>, comma separated.
func (m *Manager) mergeEnvVars() {
	m.mu.Lock()
	defer m.mu.Unlock()

	setIntFromEnv("MODELGATE_MAX_RETRIES", func(v int) { m.config.MaxRetries = v })
	setIntFromEnv("MODELGATE_RETRY_DELAY", func(v int) { m.config.RetryDelaySeconds = v })
	setIntFromEnv("MODELGATE_REQUEST_TIMEOUT", func(v int) { m.config.RequestTimeoutSeconds = v })
	if v := os.Getenv("MODELGATE_DEBUG"); v != "" {
		m.config.Debug = parseBool(v)
	}
	if v := os.Getenv("MODELGATE_LOG_FILE"); v != "" {
		m.config.LogFile = v
	}

	for name, pc := range m.config.Providers {
		envKey := "MODELGATE_KEYS_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv(envKey); v != "" {
			pc.APIKeys = splitAndTrim(v, ",")
			m.config.Providers[name] = pc
		}
	}
}

func setIntFromEnv(key string, setter func(int)) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithFields(log.Fields{"var": key, "value": v}).Warn("ignoring non-integer environment override")
		return
	}
	setter(n)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitAndTrim(input, sep string) []string {
	var out []string
	for _, item := range strings.Split(input, sep) {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
