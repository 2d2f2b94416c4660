package constants

// Source applications whose notifications are captured
const (
	WhatsAppPackage         = "com.whatsapp"
	WhatsAppBusinessPackage = "com.whatsapp.w4b"
)

// DefaultAllowedApps is the source-application allow-list used when the config has none.
var DefaultAllowedApps = []string{WhatsAppPackage, WhatsAppBusinessPackage}

// Default ingestion values
const (
	DefaultListenerQueueSize = 1024
	DefaultCommitDebounceMs  = 250
	DefaultRedriveSchedule   = "@every 1m"
	DefaultDrainBatchSize    = 500
	DefaultListPageSize      = 200
	MaxListPageSize          = 1000
)

// Commit modes
const (
	CommitModeDirect   = "direct"
	CommitModeDeferred = "deferred"
)

// Staging namespace
const (
	StagingKeyPrefix       = "pending."
	StagingNewKeyPrefix    = StagingKeyPrefix + "new."
	StagingDeleteKeyPrefix = StagingKeyPrefix + "delete."

	// StagingEntrySeparator separates the notification key from the per-entry id.
	StagingEntrySeparator = "#"

	// StagingFieldSeparator separates the fields of a staged value.
	StagingFieldSeparator = "\x1f"
	// StagingLineSeparator joins multiple message lines inside the body field.
	StagingLineSeparator = "\x1e"
)

// Default retry values
const (
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 5000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseBusyTimeoutMs = 5000
)

// Default server values
const (
	DefaultServerHost            = "127.0.0.1"
	DefaultServerPort            = 8087
	DefaultIngestRatePerSec      = 50
	DefaultIngestBurst           = 100
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 10
	DefaultMaxEventBodyBytes     = 256 * 1024
	ServerErrorChannelSize       = 1
)

// Default watcher values
const (
	DefaultConfigReloadDebounceMs = 200
)

// Consumer socket
const (
	RefreshSignal                  = "refresh"
	DefaultConsumerWriteTimeoutSec = 5
)

// Privacy settings
const (
	DefaultSenderMaskLength = 2
	DefaultKeyMaskLength    = 8
)

// At-rest field encryption
const (
	EnvEncryptionEnabled = "STATUSHUB_ENABLE_ENCRYPTION"
	EnvEncryptionSecret  = "STATUSHUB_ENCRYPTION_SECRET"

	EncryptionSalt       = "statushub-field-encryption-v1"
	EncryptionLookupSalt = "statushub-lookup-nonce-v1"

	MinEncryptionSecretLength = 32
	EncryptionKeySize         = 32 // AES-256
	EncryptionNonceSize       = 12
	EncryptionKDFIterations   = 100000
)
