package models

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig `json:"database"`
	Listener ListenerConfig `json:"listener"`
	Commit   CommitConfig   `json:"commit"`
	Server   ServerConfig   `json:"server"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// DatabaseConfig holds durable store configuration
type DatabaseConfig struct {
	Path                      string `json:"path"`
	BusyTimeoutMs             int    `json:"busy_timeout_ms"`
	AllowDestructiveMigration bool   `json:"allow_destructive_migration"`
}

// ListenerConfig controls which notifications are captured
type ListenerConfig struct {
	Enabled     bool     `json:"enabled"`
	AllowedApps []string `json:"allowed_apps"`
	QueueSize   int      `json:"queue_size"`
}

// CommitConfig selects between direct and deferred persistence
type CommitConfig struct {
	Mode            string `json:"mode"`
	DebounceMs      int    `json:"debounce_ms"`
	RedriveSchedule string `json:"redrive_schedule"`
}

// ServerConfig holds the local HTTP surface configuration
type ServerConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	IngestRatePerSec int    `json:"ingest_rate_per_sec"`
	IngestBurst      int    `json:"ingest_burst"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
