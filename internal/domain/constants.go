package domain

import "time"

// File permissions
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
	// ArtifactPermissions is the permission for exported part files (rw-r--r--)
	ArtifactPermissions = 0o644
)

// Timeouts
const (
	// DefaultHTTPClientTimeout is the timeout for model HTTP requests
	DefaultHTTPClientTimeout = 60 * time.Second
	// DefaultModelTestTimeout bounds the doctor's endpoint probe
	DefaultModelTestTimeout = 5 * time.Second
	// DefaultShutdownTimeout bounds the HTTP server drain
	DefaultShutdownTimeout = 10 * time.Second
)

// Generation defaults
const (
	// DefaultMaxAttempts is how many times a prompt is sent before giving up
	DefaultMaxAttempts = 2
	// DefaultMaxAttemptsLimit caps what a single request may ask for
	DefaultMaxAttemptsLimit = 10
	// DefaultMaxTokens caps a single completion; programs are short
	DefaultMaxTokens = 300
	// DefaultFeedbackHistory keeps only the latest validator message
	DefaultFeedbackHistory = 1
	// DefaultTimeoutSeconds bounds a whole run
	DefaultTimeoutSeconds = 120
	// DefaultOutputDir is where artifacts land when nothing else is set
	DefaultOutputDir = "output"
)

// DefaultStopSequences end a completion before the model starts a new turn.
var DefaultStopSequences = []string{"User:", "\n\n"}

// Cache and history
const (
	// DefaultMaxCacheEntries is the maximum number of cache entries
	DefaultMaxCacheEntries = 100
	// DefaultCacheTTL is how long a cached program stays usable
	DefaultCacheTTL = 7 * 24 * time.Hour
	// DefaultHistoryLimit is the default number of history records to display
	DefaultHistoryLimit = 20
	// DefaultHistorySearchLimit is the default number of search results to return
	DefaultHistorySearchLimit = 50
	// DefaultHistoryRetainDays is the default number of days to retain history
	DefaultHistoryRetainDays = 30
)

// Server
const (
	DefaultServerAddr = "127.0.0.1:8088"
)

// TimestampFormat is the standard timestamp format
const TimestampFormat = time.RFC3339
