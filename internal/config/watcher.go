package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"statushub/internal/constants"
	"statushub/internal/metrics"
	"statushub/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ConfigWatcher watches the configuration file and reloads it on change.
// Only the log level is applied live; other changes are reported and take
// effect on restart.
type ConfigWatcher struct {
	configPath string
	logger     *logrus.Logger
	debounce   time.Duration
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewConfigWatcher creates a watcher. initial may be nil, in which case
// Start loads the file first.
func NewConfigWatcher(configPath string, initial *models.Config, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		logger:     logger,
		debounce:   time.Duration(constants.DefaultConfigReloadDebounceMs) * time.Millisecond,
		config:     initial,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// Start watches the config file's directory until ctx is done. Editors
// often replace the file instead of writing it, so the directory is watched
// and events are matched on the file name.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	if cw.GetConfig() == nil {
		config, err := LoadConfig(cw.configPath)
		if err != nil {
			return err
		}
		cw.mu.Lock()
		cw.config = config
		cw.mu.Unlock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(cw.configPath)
	file := filepath.Base(cw.configPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	for {
		select {
		case <-ctx.Done():
			cw.stopTimer()
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.logger.WithField("op", ev.Op.String()).Debug("Configuration file changed")
				cw.scheduleReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.WithError(err).Warn("Configuration watcher error")
		}
	}
}

// scheduleReload waits for writes to settle before reloading.
func (cw *ConfigWatcher) scheduleReload() {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.reloadConfig)
}

func (cw *ConfigWatcher) stopTimer() {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
		cw.timer = nil
	}
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig reloads the configuration from file. An invalid file keeps
// the previous configuration in place.
func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		metrics.IncrementCounter(metrics.ConfigReloads, map[string]string{"result": "rejected"})
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	metrics.IncrementCounter(metrics.ConfigReloads, map[string]string{"result": "applied"})
	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		cw.invoke(callback, newConfig)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

func (cw *ConfigWatcher) invoke(cb func(*models.Config), config *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(config)
}

// logConfigChanges logs notable configuration changes
func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	restart := func(setting string, oldValue, newValue interface{}) {
		cw.logger.WithFields(logrus.Fields{
			"setting": setting,
			"old":     oldValue,
			"new":     newValue,
		}).Warn("Configuration change requires restart")
	}
	if old.Database.Path != new.Database.Path {
		restart("database.path", old.Database.Path, new.Database.Path)
	}
	if old.Commit.Mode != new.Commit.Mode {
		restart("commit.mode", old.Commit.Mode, new.Commit.Mode)
	}
	if old.Server.Port != new.Server.Port {
		restart("server.port", old.Server.Port, new.Server.Port)
	}
	if len(old.Listener.AllowedApps) != len(new.Listener.AllowedApps) {
		restart("listener.allowed_apps", len(old.Listener.AllowedApps), len(new.Listener.AllowedApps))
	}
}

// LogLevelApplier returns a callback that applies the reloaded log level.
// verbose pins the logger at debug regardless of the file.
func LogLevelApplier(logger *logrus.Logger, verbose bool) func(*models.Config) {
	return func(config *models.Config) {
		if verbose {
			return
		}
		level, err := logrus.ParseLevel(config.LogLevel)
		if err != nil {
			return
		}
		logger.SetLevel(level)
	}
}
