package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"statushub/internal/constants"
	"statushub/internal/models"
	"statushub/internal/security"
	"statushub/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Environment overrides
const (
	EnvDBPath     = "STATUSHUB_DB_PATH"
	EnvCommitMode = "STATUSHUB_COMMIT_MODE"
	EnvPort       = "STATUSHUB_PORT"
	EnvLogLevel   = "STATUSHUB_LOG_LEVEL"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingAllowedApps = models.ConfigError{Message: "listener.allowed_apps must contain at least one application"}
)

// Defaults returns the configuration used for every field a file leaves out.
func Defaults() models.Config {
	return models.Config{
		Database: models.DatabaseConfig{
			Path:          "statushub.db",
			BusyTimeoutMs: constants.DefaultDatabaseBusyTimeoutMs,
		},
		Listener: models.ListenerConfig{
			Enabled:     true,
			AllowedApps: append([]string(nil), constants.DefaultAllowedApps...),
			QueueSize:   constants.DefaultListenerQueueSize,
		},
		Commit: models.CommitConfig{
			Mode:            constants.CommitModeDirect,
			DebounceMs:      constants.DefaultCommitDebounceMs,
			RedriveSchedule: constants.DefaultRedriveSchedule,
		},
		Server: models.ServerConfig{
			Host:             constants.DefaultServerHost,
			Port:             constants.DefaultServerPort,
			IngestRatePerSec: constants.DefaultIngestRatePerSec,
			IngestBurst:      constants.DefaultIngestBurst,
		},
		Retry: models.RetryConfig{
			InitialBackoffMs: constants.DefaultRetryBackoffMs,
			MaxBackoffMs:     constants.DefaultMaxBackoffMs,
			MaxAttempts:      constants.DefaultMaxAttempts,
		},
		Tracing:  tracing.DefaultTracingConfig(),
		LogLevel: "info",
	}
}

// LoadConfig reads a JSON config file over the defaults, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	config := Defaults()
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return finish(&config)
}

// Load reads path when it is set and otherwise starts from the defaults.
func Load(path string) (*models.Config, error) {
	if path != "" {
		return LoadConfig(path)
	}
	config := Defaults()
	return finish(&config)
}

func finish(config *models.Config) (*models.Config, error) {
	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}
	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validate(c *models.Config) error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Database.BusyTimeoutMs < 0 {
		return models.ConfigError{Message: "database.busy_timeout_ms must not be negative"}
	}

	apps := c.Listener.AllowedApps[:0]
	for _, app := range c.Listener.AllowedApps {
		if app = strings.TrimSpace(app); app != "" {
			apps = append(apps, app)
		}
	}
	c.Listener.AllowedApps = apps
	if len(c.Listener.AllowedApps) == 0 {
		return ErrMissingAllowedApps
	}
	if c.Listener.QueueSize <= 0 {
		c.Listener.QueueSize = constants.DefaultListenerQueueSize
	}

	c.Commit.Mode = strings.ToLower(strings.TrimSpace(c.Commit.Mode))
	switch c.Commit.Mode {
	case constants.CommitModeDirect, constants.CommitModeDeferred:
	default:
		return models.ConfigError{Message: fmt.Sprintf("commit.mode must be %q or %q, got %q",
			constants.CommitModeDirect, constants.CommitModeDeferred, c.Commit.Mode)}
	}
	if c.Commit.DebounceMs <= 0 {
		c.Commit.DebounceMs = constants.DefaultCommitDebounceMs
	}
	if strings.TrimSpace(c.Commit.RedriveSchedule) == "" {
		c.Commit.RedriveSchedule = constants.DefaultRedriveSchedule
	}

	if strings.TrimSpace(c.Server.Host) == "" {
		c.Server.Host = constants.DefaultServerHost
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("server.port out of range: %d", c.Server.Port)}
	}
	if c.Server.IngestRatePerSec <= 0 {
		c.Server.IngestRatePerSec = constants.DefaultIngestRatePerSec
	}
	if c.Server.IngestBurst <= 0 {
		c.Server.IngestBurst = constants.DefaultIngestBurst
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		c.Retry.MaxBackoffMs = c.Retry.InitialBackoffMs
	}

	if err := tracing.ValidateConfig(c.Tracing); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level %q", c.LogLevel)}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Database.Path = path
	}
	if mode := os.Getenv(EnvCommitMode); mode != "" {
		c.Commit.Mode = mode
	}
	if raw := os.Getenv(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("%s must be a number, got %q", EnvPort, raw)}
		}
		c.Server.Port = port
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	return nil
}
