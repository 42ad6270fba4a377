package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrModelNotFound is returned when a requested model name is not configured.
var ErrModelNotFound = errors.New("not found in configuration")

// DefaultModel resolves preferences.default_model against the models list.
func (c *Config) DefaultModel() (ModelDefinition, error) {
	if c.Preferences.DefaultModel == "" {
		return ModelDefinition{}, fmt.Errorf("no default model configured")
	}
	if model, ok := c.FindModelByName(c.Preferences.DefaultModel); ok {
		return model, nil
	}
	return ModelDefinition{}, fmt.Errorf("default model %s not found in configuration", c.Preferences.DefaultModel)
}

// FindModelByName searches for a model by its name.
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// HasModel checks if a model with the given name exists.
func (c *Config) HasModel(name string) bool {
	_, exists := c.FindModelByName(name)
	return exists
}

// SelectModel returns the override when given, the default model otherwise.
func (c *Config) SelectModel(override string) (ModelDefinition, error) {
	if override == "" {
		return c.DefaultModel()
	}
	if model, ok := c.FindModelByName(override); ok {
		return model, nil
	}
	return ModelDefinition{}, fmt.Errorf("model %s %w", override, ErrModelNotFound)
}

// ExportRequired reports whether programs without EXPORT are rejected.
func (c *Config) ExportRequired() bool {
	if c.Validation.RequireExport == nil {
		return true
	}
	return *c.Validation.RequireExport
}

func (c *Config) MaxAttempts() int {
	if c.Generation.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.Generation.MaxAttempts
}

// MaxAttemptsLimit is the most attempts one request may run. It never falls
// below MaxAttempts.
func (c *Config) MaxAttemptsLimit() int {
	limit := c.Generation.MaxAttemptsLimit
	if limit <= 0 {
		limit = DefaultMaxAttemptsLimit
	}
	if def := c.MaxAttempts(); def > limit {
		return def
	}
	return limit
}

// AttemptsFor resolves a requested attempt count: zero or less means the
// configured default, anything above MaxAttemptsLimit is clamped to it.
func (c *Config) AttemptsFor(requested int) int {
	if requested <= 0 {
		return c.MaxAttempts()
	}
	if limit := c.MaxAttemptsLimit(); requested > limit {
		return limit
	}
	return requested
}

// MaxTokensFor prefers the model's own limit over the generation default.
func (c *Config) MaxTokensFor(model ModelDefinition) int {
	if model.MaxTokens > 0 {
		return model.MaxTokens
	}
	if c.Generation.MaxTokens > 0 {
		return c.Generation.MaxTokens
	}
	return DefaultMaxTokens
}

func (c *Config) StopSequences() []string {
	if len(c.Generation.StopSequences) == 0 {
		return append([]string(nil), DefaultStopSequences...)
	}
	return c.Generation.StopSequences
}

func (c *Config) FeedbackHistory() int {
	if c.Generation.FeedbackHistory <= 0 {
		return DefaultFeedbackHistory
	}
	return c.Generation.FeedbackHistory
}

func (c *Config) OutputDir() string {
	if c.Preferences.OutputDir == "" {
		return DefaultOutputDir
	}
	return c.Preferences.OutputDir
}

// Timeout bounds a single generate or run invocation.
func (c *Config) Timeout() time.Duration {
	if c.Preferences.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(c.Preferences.TimeoutSeconds) * time.Second
}

func (c *Config) KernelName() string {
	if c.Geometry.Kernel == "" {
		return KernelCSG
	}
	return c.Geometry.Kernel
}

func (c *Config) CacheMaxEntries() int {
	if c.Cache.MaxEntries <= 0 {
		return DefaultMaxCacheEntries
	}
	return c.Cache.MaxEntries
}

// CacheTTL parses cache.ttl. Unset or unparsable values fall back to the
// default; application/config.Validate reports the unparsable case.
func (c *Config) CacheTTL() time.Duration {
	ttl, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || ttl <= 0 {
		return DefaultCacheTTL
	}
	return ttl
}

func (c *Config) HistoryRetentionDays() int {
	if c.History.RetentionDays <= 0 {
		return DefaultHistoryRetainDays
	}
	return c.History.RetentionDays
}

func (c *Config) ServerAddr() string {
	if c.Server.Addr == "" {
		return DefaultServerAddr
	}
	return c.Server.Addr
}

// ValidateConsistency checks that cross references inside the config hold.
func (c *Config) ValidateConsistency() error {
	if c.Preferences.DefaultModel != "" && !c.HasModel(c.Preferences.DefaultModel) {
		return fmt.Errorf("default model %s does not exist in models list", c.Preferences.DefaultModel)
	}
	seen := make(map[string]bool, len(c.Models))
	for _, model := range c.Models {
		if seen[model.Name] {
			return fmt.Errorf("model %s is declared twice", model.Name)
		}
		seen[model.Name] = true
	}
	return nil
}
