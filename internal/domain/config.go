package domain

// Config mirrors ~/.cadsmith/config.yaml.
type Config struct {
	ConfigFormatVersion string             `yaml:"config_format_version"`
	Preferences         Preferences        `yaml:"preferences"`
	Models              []ModelDefinition  `yaml:"models"`
	Generation          GenerationSettings `yaml:"generation"`
	Validation          ValidationSettings `yaml:"validation"`
	Geometry            GeometrySettings   `yaml:"geometry"`
	Cache               CacheSettings      `yaml:"cache"`
	History             HistorySettings    `yaml:"history"`
	Server              ServerSettings     `yaml:"server"`
	Logging             LoggingSettings    `yaml:"logging"`
}

// Preferences captures user level toggles.
type Preferences struct {
	DefaultModel   string `yaml:"default_model"`
	OutputDir      string `yaml:"output_dir"`
	TimeoutSeconds int    `yaml:"timeout"`
}

// GenerationSettings controls the generate/validate/retry loop.
type GenerationSettings struct {
	MaxAttempts      int      `yaml:"max_attempts"`
	MaxAttemptsLimit int      `yaml:"max_attempts_limit"`
	MaxTokens        int      `yaml:"max_tokens"`
	StopSequences    []string `yaml:"stop_sequences"`
	FeedbackHistory  int      `yaml:"feedback_history"`
}

// ValidationSettings tunes the DSL validator. RequireExport is a pointer so an
// absent key keeps the default.
type ValidationSettings struct {
	RequireExport *bool `yaml:"require_export,omitempty"`
}

// GeometrySettings selects the kernel that executes programs.
type GeometrySettings struct {
	Kernel string `yaml:"kernel"`
	Python string `yaml:"python"`
}

// CacheSettings configures the generated-program cache.
type CacheSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"`
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
}

// HistorySettings configures run history storage.
type HistorySettings struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend"`
	RetentionDays int    `yaml:"retention_days"`
}

// ServerSettings configures `cadsmith serve`.
type ServerSettings struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

// LoggingSettings configures the slog handlers.
type LoggingSettings struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Kernel names.
const (
	KernelCSG      = "csg"
	KernelCadQuery = "cadquery"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendJSONL  = "jsonl"
)
