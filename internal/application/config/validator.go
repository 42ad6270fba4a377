package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doeshing/cadsmith/internal/domain"
)

var knownKinds = map[domain.ProviderKind]bool{
	"":                       true,
	domain.ProviderAnthropic: true,
	domain.ProviderOpenAI:    true,
	domain.ProviderOllama:    true,
	domain.ProviderLlamaCpp:  true,
	domain.ProviderOffline:   true,
}

// Validate ensures config structure is consistent. Every problem found is
// reported, joined.
func Validate(cfg domain.Config) error {
	if len(cfg.Models) == 0 {
		return errors.New("at least one model must be configured")
	}
	var errs []error
	if err := cfg.ValidateConsistency(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Preferences.DefaultModel == "" {
		errs = append(errs, errors.New("preferences.default_model must be set"))
	}
	for _, model := range cfg.Models {
		if err := validateModel(model); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs,
		validateGeneration(cfg.Generation),
		validateGeometry(cfg.Geometry),
		validateCache(cfg.Cache),
		validateHistory(cfg.History),
		validateLogging(cfg.Logging),
	)
	if cfg.Preferences.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("preferences.timeout must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateModel(model domain.ModelDefinition) error {
	if model.Name == "" {
		return errors.New("models: every model needs a name")
	}
	if !knownKinds[model.Kind] {
		return fmt.Errorf("model %s: unknown kind %q", model.Name, model.Kind)
	}
	if model.Endpoint == "" && model.Kind != "" && model.Kind != domain.ProviderOffline {
		return fmt.Errorf("model %s: endpoint must be set for kind %s", model.Name, model.Kind)
	}
	if model.MaxTokens < 0 {
		return fmt.Errorf("model %s: max_tokens must be >= 0", model.Name)
	}
	return nil
}

func validateGeneration(gen domain.GenerationSettings) error {
	if gen.MaxAttempts < 0 {
		return errors.New("generation.max_attempts must be >= 0")
	}
	if gen.MaxAttemptsLimit < 0 {
		return errors.New("generation.max_attempts_limit must be >= 0")
	}
	if gen.MaxTokens < 0 {
		return errors.New("generation.max_tokens must be >= 0")
	}
	if gen.FeedbackHistory < 0 {
		return errors.New("generation.feedback_history must be >= 0")
	}
	return nil
}

func validateGeometry(geo domain.GeometrySettings) error {
	switch strings.ToLower(geo.Kernel) {
	case "", domain.KernelCSG, domain.KernelCadQuery:
		return nil
	default:
		return fmt.Errorf("geometry.kernel must be %s|%s, got %s", domain.KernelCSG, domain.KernelCadQuery, geo.Kernel)
	}
}

func validateCache(cache domain.CacheSettings) error {
	if cache.TTL != "" {
		if _, err := time.ParseDuration(cache.TTL); err != nil {
			return fmt.Errorf("cache.ttl invalid: %w", err)
		}
	}
	if cache.MaxEntries < 0 {
		return errors.New("cache.max_entries must be >= 0")
	}
	switch cache.Backend {
	case "", domain.BackendFile:
	case domain.BackendRedis:
		if cache.RedisAddr == "" {
			return errors.New("cache.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be %s|%s, got %s", domain.BackendFile, domain.BackendRedis, cache.Backend)
	}
	return nil
}

func validateHistory(history domain.HistorySettings) error {
	if history.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch history.Backend {
	case "", domain.BackendSQLite, domain.BackendJSONL:
		return nil
	default:
		return fmt.Errorf("history.backend must be %s|%s, got %s", domain.BackendSQLite, domain.BackendJSONL, history.Backend)
	}
}

func validateLogging(logging domain.LoggingSettings) error {
	switch strings.ToLower(logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %s", logging.Level)
	}
}
