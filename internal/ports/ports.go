// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// The application core (DSL pipeline, executor, generation loop) talks only to
// the interfaces declared here. Adapters in the infrastructure layer implement
// them: HTTP model clients, geometry kernels, cache and history stores,
// prometheus metrics, and the slog logger.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., Generator, Kernel)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"time"

	"github.com/doeshing/cadsmith/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.cadsmith/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// GeneratorFactory builds text generators based on model definitions.
type GeneratorFactory interface {
	ForModel(domain.ModelDefinition) (Generator, error)
}

// Generator turns a natural-language prompt into program text. It makes no
// promise about the shape of what it returns.
type Generator interface {
	Name() string
	Model() domain.ModelDefinition
	Complete(context.Context, CompletionRequest) (string, error)
}

// CompletionRequest carries one generation call.
type CompletionRequest struct {
	Prompt    string
	MaxTokens int
	Stop      []string
}

// Solid is an opaque handle produced by a Kernel. Only the kernel that made it
// can interpret it. Handles must be comparable; kernels return pointers.
type Solid interface{}

// StepError is returned by kernels that defer evaluation until Export. Solid
// is the intermediate handle whose construction failed, so callers can blame
// the command that produced it instead of the export.
type StepError struct {
	Solid Solid
	Err   error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Kernel is the solid-modeling capability the executor drives. Every
// operation returns a new Solid and leaves its inputs untouched.
type Kernel interface {
	Name() string
	CreateBox(width, height, depth float64) (Solid, error)
	CreateCylinder(radius, height float64) (Solid, error)
	Translate(s Solid, x, y, z float64) (Solid, error)
	Subtract(target, tool Solid) (Solid, error)
	Fillet(s Solid, radius float64) (Solid, error)
	Export(ctx context.Context, s Solid, path string) error
}

// CacheRepository stores programs that passed validation, keyed by prompt.
type CacheRepository interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	Set(ctx context.Context, entry domain.CacheEntry) error
	Entries(ctx context.Context) ([]domain.CacheEntry, error)
	Clear(ctx context.Context) error
}

// HistoryRepository persists one record per run.
type HistoryRepository interface {
	Save(ctx context.Context, record domain.HistoryRecord) error
	Records(ctx context.Context, limit int, search string) ([]domain.HistoryRecord, error)
	Find(ctx context.Context, runID string) (domain.HistoryRecord, bool, error)
	Clear(ctx context.Context) error
	PruneOlderThan(ctx context.Context, days int) error
	Path() string
}

// Metrics records pipeline counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveAttempt()
	ObserveValidationFailure(rule string)
	ObserveRun(outcome domain.Outcome, elapsed time.Duration)
	ObserveCommand(command string)
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stderr, files).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveAttempt()                          {}
func (NopMetrics) ObserveValidationFailure(string)          {}
func (NopMetrics) ObserveRun(domain.Outcome, time.Duration) {}
func (NopMetrics) ObserveCommand(string)                    {}

// NopLogger discards every entry.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]interface{})        {}
func (NopLogger) Info(string, map[string]interface{})         {}
func (NopLogger) Warn(string, map[string]interface{})         {}
func (NopLogger) Error(string, error, map[string]interface{}) {}
