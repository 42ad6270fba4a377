package generate_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cadsmith/internal/application/executor"
	"github.com/doeshing/cadsmith/internal/application/generate"
	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
	"github.com/doeshing/cadsmith/internal/infrastructure/geometry/csg"
	"github.com/doeshing/cadsmith/internal/ports"
)

const (
	validBox  = "CREATE_BOX id=box1 width=30 height=20 depth=10\nEXPORT filename=\"box1.step\""
	badRadius = "CREATE_CYLINDER id=hole1 radius=-5 height=20\nEXPORT filename=\"x.step\""
)

type staticConfig struct{ cfg domain.Config }

func (s staticConfig) Load(context.Context) (domain.Config, error) { return s.cfg, nil }

// scriptedGenerator replays canned replies and records every prompt it sees.
type scriptedGenerator struct {
	replies []string
	err     error
	prompts []string
	reqs    []ports.CompletionRequest
}

func (g *scriptedGenerator) Name() string                  { return "scripted" }
func (g *scriptedGenerator) Model() domain.ModelDefinition { return domain.ModelDefinition{Name: "test"} }

func (g *scriptedGenerator) Complete(_ context.Context, req ports.CompletionRequest) (string, error) {
	g.prompts = append(g.prompts, req.Prompt)
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return "", g.err
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

type fixedFactory struct{ gen ports.Generator }

func (f fixedFactory) ForModel(domain.ModelDefinition) (ports.Generator, error) { return f.gen, nil }

type memCache struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
}

func (c *memCache) Get(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *memCache) Set(_ context.Context, e domain.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]domain.CacheEntry{}
	}
	c.entries[e.Key] = e
	return nil
}

func (c *memCache) Entries(context.Context) ([]domain.CacheEntry, error) { return nil, nil }
func (c *memCache) Clear(context.Context) error                         { return nil }

type memHistory struct{ records []domain.HistoryRecord }

func (h *memHistory) Save(_ context.Context, r domain.HistoryRecord) error {
	h.records = append(h.records, r)
	return nil
}
func (h *memHistory) Records(context.Context, int, string) ([]domain.HistoryRecord, error) {
	return h.records, nil
}
func (h *memHistory) Find(context.Context, string) (domain.HistoryRecord, bool, error) {
	return domain.HistoryRecord{}, false, nil
}
func (h *memHistory) Clear(context.Context) error               { return nil }
func (h *memHistory) PruneOlderThan(context.Context, int) error { return nil }
func (h *memHistory) Path() string                              { return "" }

type countingMetrics struct {
	attempts int
	failures []string
	outcomes []domain.Outcome
}

func (m *countingMetrics) ObserveAttempt()                   { m.attempts++ }
func (m *countingMetrics) ObserveValidationFailure(r string) { m.failures = append(m.failures, r) }
func (m *countingMetrics) ObserveRun(o domain.Outcome, _ time.Duration) {
	m.outcomes = append(m.outcomes, o)
}
func (m *countingMetrics) ObserveCommand(string) {}

type fixture struct {
	svc     *generate.Service
	gen     *scriptedGenerator
	history *memHistory
	metrics *countingMetrics
}

func newFixture(t *testing.T, gen *scriptedGenerator) fixture {
	t.Helper()
	cfg := domain.Config{
		Preferences: domain.Preferences{DefaultModel: "test", OutputDir: t.TempDir()},
		Models:      []domain.ModelDefinition{{Name: "test", ModelID: "stub"}},
	}
	f := fixture{gen: gen, history: &memHistory{}, metrics: &countingMetrics{}}
	f.svc = &generate.Service{
		ConfigProvider:   staticConfig{cfg: cfg},
		GeneratorFactory: fixedFactory{gen: gen},
		Executor:         executor.New(csg.New(), nil, nil),
		History:          f.history,
		Metrics:          f.metrics,
		Logger:           ports.NopLogger{},
	}
	return f
}

func TestRun_FirstAttemptSucceeds(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{validBox}})

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "Make a 30x20x10 box."})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.FileExists(t, res.ArtifactPath)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, []string{"Make a 30x20x10 box."}, f.gen.prompts)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, res.RunID, f.history.records[0].RunID)
	assert.Equal(t, validBox, f.history.records[0].DSL)
}

func TestRun_RetryFoldsLatestMessage(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{badRadius, validBox}})

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "a cylinder"})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	require.Len(t, f.gen.prompts, 2)
	assert.Equal(t, "a cylinder. Fix the following issue: radius must be positive in CREATE_CYLINDER", f.gen.prompts[1])
	assert.Equal(t, []string{string(dsl.RuleNonPositive)}, f.metrics.failures)
}

func TestRun_ExhaustionIsAnOutcome(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{badRadius}})

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p", MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.Empty(t, res.ArtifactPath)
	assert.Len(t, f.gen.prompts, 3, "generator is called exactly max_attempts times")
	assert.Equal(t, 3, f.metrics.attempts)
	assert.Equal(t, []domain.Outcome{domain.OutcomeExhausted}, f.metrics.outcomes)

	// Only the most recent message is folded in.
	assert.Equal(t, "p. Fix the following issue: radius must be positive in CREATE_CYLINDER", f.gen.prompts[2])
}

func TestRun_DefaultAttemptsFromConfig(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{badRadius}})
	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.Len(t, f.gen.prompts, domain.DefaultMaxAttempts)
}

func TestRun_ClampsRequestedAttempts(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{badRadius}})

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p", MaxAttempts: 5000})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExhausted, res.Outcome)
	assert.Len(t, f.gen.prompts, domain.DefaultMaxAttemptsLimit)
	assert.Len(t, res.Attempts, domain.DefaultMaxAttemptsLimit)
}

func TestRun_ClampsToConfiguredLimit(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{badRadius}}
	f := newFixture(t, gen)
	cfg := domain.Config{
		Preferences: domain.Preferences{DefaultModel: "test", OutputDir: t.TempDir()},
		Models:      []domain.ModelDefinition{{Name: "test"}},
		Generation:  domain.GenerationSettings{MaxAttemptsLimit: 3},
	}
	f.svc.ConfigProvider = staticConfig{cfg: cfg}

	_, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p", MaxAttempts: 50})
	require.NoError(t, err)
	assert.Len(t, gen.prompts, 3)
}

func TestRun_KeepsCallerRunID(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{validBox}})
	dir := t.TempDir()

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p", RunID: "run-42", OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)
	assert.Equal(t, dir, filepath.Dir(res.ArtifactPath))
	require.Len(t, f.history.records, 1)
	assert.Equal(t, "run-42", f.history.records[0].RunID)
}

func TestRun_UnknownModelIsErrModelNotFound(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{validBox}})
	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p", ModelOverride: "nope"})
	require.ErrorIs(t, err, domain.ErrModelNotFound)
	assert.Empty(t, res.RunID)
	assert.Empty(t, f.gen.prompts)
}

func TestRun_PassesGenerationLimits(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{validBox}})
	_, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)

	require.Len(t, f.gen.reqs, 1)
	assert.Equal(t, domain.DefaultMaxTokens, f.gen.reqs[0].MaxTokens)
	assert.Equal(t, []string{"User:", "\n\n"}, f.gen.reqs[0].Stop)
}

func TestRun_GeneratorErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	f := newFixture(t, &scriptedGenerator{err: boom})

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p"})
	assert.ErrorIs(t, err, generate.ErrGeneration)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.OutcomeError, res.Outcome)
	require.Len(t, f.history.records, 1)
	assert.Contains(t, f.history.records[0].Error, "connection refused")
}

func TestRun_ExecutorErrorPropagates(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{
		"CREATE_BOX id=p width=40 height=20 depth=5\nFILLET id=p radius=4\nEXPORT filename=\"p.step\"",
	}})

	res, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p"})
	assert.ErrorIs(t, err, csg.ErrFilletTooLarge)
	assert.Equal(t, domain.OutcomeError, res.Outcome)
}

func TestRun_UsesCacheForValidPrograms(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{validBox}})
	f.svc.Cache = &memCache{}

	first, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "box"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "box"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, domain.OutcomeSuccess, second.Outcome)
	assert.Len(t, f.gen.prompts, 1, "cached run skips the generator")

	_, err = f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "box", NoCache: true})
	require.NoError(t, err)
	assert.Len(t, f.gen.prompts, 2)
}

func TestRun_InvalidProgramsAreNotCached(t *testing.T) {
	cache := &memCache{}
	f := newFixture(t, &scriptedGenerator{replies: []string{badRadius}})
	f.svc.Cache = cache

	_, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Empty(t, cache.entries)
}

func TestRun_RejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{replies: []string{validBox}})
	_, err := f.svc.Run(context.Background(), domain.GenerationRequest{Prompt: "  "})
	assert.Error(t, err)
	assert.Empty(t, f.gen.prompts)
}

func TestFeedbackPrompt(t *testing.T) {
	failures := []domain.Attempt{
		{Number: 1, Message: "Missing id in CREATE_BOX"},
		{Number: 2, Message: "Unknown tool 'hole1'"},
	}

	assert.Equal(t, "p", generate.FeedbackPrompt("p", nil, 1))
	assert.Equal(t, "p. Fix the following issue: Unknown tool 'hole1'", generate.FeedbackPrompt("p", failures, 1))
	assert.Equal(t,
		"p. Attempt 1 failed: Missing id in CREATE_BOX. Fix the following issue: Unknown tool 'hole1'",
		generate.FeedbackPrompt("p", failures, 5))
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, generate.KeyFor("m", "box"), generate.KeyFor("m", "  box "))
	assert.NotEqual(t, generate.KeyFor("m", "box"), generate.KeyFor("n", "box"))
	assert.Len(t, generate.KeyFor("m", "box"), 64)
}

func TestExecute_RunsValidProgram(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{})
	dir := t.TempDir()

	res, err := f.svc.Execute(context.Background(), validBox, dir)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.FileExists(t, res.ArtifactPath)
	assert.Empty(t, f.gen.prompts, "generator is not consulted")

	require.Len(t, f.history.records, 1)
	assert.Equal(t, generate.DirectModel, f.history.records[0].Model)
	assert.Equal(t, validBox, f.history.records[0].DSL)
}

func TestExecute_RejectsInvalidProgram(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{})

	res, err := f.svc.Execute(context.Background(), badRadius, t.TempDir())
	require.ErrorIs(t, err, generate.ErrInvalidProgram)
	assert.ErrorContains(t, err, "radius must be positive in CREATE_CYLINDER")
	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Equal(t, []string{"non_positive"}, f.metrics.failures)
}

func TestCheck(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{})

	parsed, verdict, err := f.svc.Check(context.Background(), "CREATE_BOX id=b width=1 height=1 depth=1 junk")
	require.NoError(t, err)
	assert.Len(t, parsed.Sequence, 1)
	assert.Len(t, parsed.Dropped, 1)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "Missing EXPORT command", verdict.Message)
}
