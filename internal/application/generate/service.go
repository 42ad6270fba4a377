// Package generate implements the natural language to artifact use case: ask a
// text generator for a program, validate it, feed validator messages back on
// failure, and execute the first program that passes.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
	"github.com/doeshing/cadsmith/internal/ports"
)

// ErrGeneration wraps failures of the text-generation capability.
var ErrGeneration = errors.New("text generation failed")

// Runner executes a validated sequence. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, seq dsl.Sequence, outputDir string) (string, error)
}

// Service orchestrates the generation lifecycle end-to-end. Cache, History and
// Metrics are optional.
type Service struct {
	ConfigProvider   ports.ConfigProvider
	GeneratorFactory ports.GeneratorFactory
	Executor         Runner
	Cache            ports.CacheRepository
	History          ports.HistoryRepository
	Metrics          ports.Metrics
	Logger           ports.Logger
}

// Run processes a single natural-language part request. Running out of
// attempts is reported through Outcome with a nil error; generator and
// executor failures are returned as errors alongside the partial result.
func (s *Service) Run(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	if s.ConfigProvider == nil || s.GeneratorFactory == nil || s.Executor == nil || s.Logger == nil {
		return domain.GenerationResult{}, errors.New("generate.Service dependencies not satisfied")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.GenerationResult{}, errors.New("prompt is empty")
	}

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("load config: %w", err)
	}

	model, err := cfg.SelectModel(req.ModelOverride)
	if err != nil {
		return domain.GenerationResult{}, err
	}

	started := time.Now()
	result := domain.GenerationResult{
		RunID:  req.RunID,
		Prompt: req.Prompt,
		Model:  model.Name,
	}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}

	r := run{
		svc:       s,
		cfg:       cfg,
		req:       req,
		model:     model,
		validator: dsl.NewValidator(dsl.WithRequireExport(cfg.ExportRequired())),
		outputDir: req.OutputDir,
	}
	if r.outputDir == "" {
		r.outputDir = cfg.OutputDir()
	}

	err = r.execute(ctx, &result)
	result.Duration = time.Since(started)
	s.finish(ctx, result, r.lastDSL, err)
	return result, err
}

// run carries the state of one Service.Run call.
type run struct {
	svc       *Service
	cfg       domain.Config
	req       domain.GenerationRequest
	model     domain.ModelDefinition
	validator *dsl.Validator
	outputDir string
	lastDSL   string
}

func (r *run) execute(ctx context.Context, result *domain.GenerationResult) error {
	cacheKey := KeyFor(r.model.Name, r.req.Prompt)
	if done, err := r.tryCache(ctx, cacheKey, result); done || err != nil {
		return err
	}

	generator, err := r.svc.GeneratorFactory.ForModel(r.model)
	if err != nil {
		result.Outcome = domain.OutcomeError
		return fmt.Errorf("generator init: %w", err)
	}

	maxAttempts := r.cfg.AttemptsFor(r.req.MaxAttempts)
	if maxAttempts < r.req.MaxAttempts {
		r.svc.Logger.Warn("clamping requested attempts", map[string]interface{}{
			"requested": r.req.MaxAttempts,
			"limit":     maxAttempts,
		})
	}

	var failures []domain.Attempt
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			result.Outcome = domain.OutcomeError
			return err
		}

		prompt := FeedbackPrompt(r.req.Prompt, failures, r.cfg.FeedbackHistory())
		r.svc.metrics().ObserveAttempt()
		r.svc.Logger.Info("requesting program", map[string]interface{}{
			"attempt":   n,
			"generator": generator.Name(),
			"model":     r.model.ModelID,
		})

		text, err := generator.Complete(ctx, ports.CompletionRequest{
			Prompt:    prompt,
			MaxTokens: r.cfg.MaxTokensFor(r.model),
			Stop:      r.cfg.StopSequences(),
		})
		if err != nil {
			result.Outcome = domain.OutcomeError
			return fmt.Errorf("%w: %w", ErrGeneration, err)
		}

		parsed := dsl.Parse(text)
		verdict := r.validator.Validate(parsed.Sequence)
		attempt := newAttempt(n, prompt, text, parsed, verdict)
		result.Attempts = append(result.Attempts, attempt)
		r.lastDSL = text

		if len(parsed.Dropped) > 0 {
			r.svc.Logger.Debug("dropped tokens", map[string]interface{}{
				"attempt": n,
				"tokens":  attempt.Dropped,
			})
		}

		if !verdict.Valid {
			r.svc.metrics().ObserveValidationFailure(string(verdict.Rule))
			r.svc.Logger.Warn("program rejected", map[string]interface{}{
				"attempt": n,
				"rule":    string(verdict.Rule),
				"message": verdict.Message,
			})
			failures = append(failures, attempt)
			continue
		}

		r.store(ctx, cacheKey, text)
		return r.runProgram(ctx, parsed.Sequence, result)
	}

	result.Outcome = domain.OutcomeExhausted
	r.svc.Logger.Warn("attempts exhausted", map[string]interface{}{"attempts": maxAttempts})
	return nil
}

// tryCache replays a cached program. It reports done when the cached program
// was executed, successfully or not.
func (r *run) tryCache(ctx context.Context, key string, result *domain.GenerationResult) (bool, error) {
	if r.svc.Cache == nil || r.req.NoCache {
		return false, nil
	}
	entry, ok, err := r.svc.Cache.Get(ctx, key)
	if err != nil {
		r.svc.Logger.Warn("cache lookup failed", map[string]interface{}{"error": err.Error()})
		return false, nil
	}
	if !ok {
		return false, nil
	}

	parsed := dsl.Parse(entry.DSL)
	verdict := r.validator.Validate(parsed.Sequence)
	if !verdict.Valid {
		// Validation settings changed since the entry was written.
		r.svc.Logger.Debug("ignoring stale cache entry", map[string]interface{}{"message": verdict.Message})
		return false, nil
	}

	r.svc.Logger.Info("using cached program", map[string]interface{}{"key": key})
	result.FromCache = true
	result.Attempts = append(result.Attempts, newAttempt(1, r.req.Prompt, entry.DSL, parsed, verdict))
	r.lastDSL = entry.DSL
	return true, r.runProgram(ctx, parsed.Sequence, result)
}

func (r *run) store(ctx context.Context, key, text string) {
	if r.svc.Cache == nil || r.req.NoCache {
		return
	}
	err := r.svc.Cache.Set(ctx, domain.CacheEntry{
		Key:       key,
		Prompt:    r.req.Prompt,
		DSL:       text,
		Model:     r.model.Name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		r.svc.Logger.Warn("cache store failed", map[string]interface{}{"error": err.Error()})
	}
}

func (r *run) runProgram(ctx context.Context, seq dsl.Sequence, result *domain.GenerationResult) error {
	path, err := r.svc.Executor.Run(ctx, seq, r.outputDir)
	if err != nil {
		result.Outcome = domain.OutcomeError
		return fmt.Errorf("execute program: %w", err)
	}
	result.ArtifactPath = path
	if path == "" {
		result.Outcome = domain.OutcomeNoArtifact
		return nil
	}
	result.Outcome = domain.OutcomeSuccess
	return nil
}

func (s *Service) finish(ctx context.Context, result domain.GenerationResult, lastDSL string, runErr error) {
	s.metrics().ObserveRun(result.Outcome, result.Duration)
	if s.History == nil {
		return
	}
	record := domain.HistoryRecord{
		RunID:        result.RunID,
		Timestamp:    time.Now().UTC(),
		Prompt:       result.Prompt,
		Model:        result.Model,
		Outcome:      result.Outcome,
		Attempts:     len(result.Attempts),
		DSL:          lastDSL,
		ArtifactPath: result.ArtifactPath,
		DurationMS:   result.Duration.Milliseconds(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	// A cancelled caller still gets its run recorded.
	if err := s.History.Save(context.WithoutCancel(ctx), record); err != nil {
		s.Logger.Warn("history save failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) metrics() ports.Metrics {
	if s.Metrics == nil {
		return ports.NopMetrics{}
	}
	return s.Metrics
}

func newAttempt(n int, prompt, text string, parsed dsl.ParseResult, verdict dsl.Result) domain.Attempt {
	attempt := domain.Attempt{
		Number:   n,
		Prompt:   prompt,
		DSL:      text,
		Valid:    verdict.Valid,
		Message:  verdict.Message,
		Rule:     string(verdict.Rule),
		Warnings: verdict.Warnings,
	}
	for _, tok := range parsed.Dropped {
		attempt.Dropped = append(attempt.Dropped, fmt.Sprintf("%d:%s", tok.Line, tok.Token))
	}
	return attempt
}

// FeedbackPrompt folds validator messages into the next prompt. With a
// history of one only the latest message is used:
//
//	<prompt>. Fix the following issue: <message>
//
// Larger histories prepend earlier failures, one sentence each.
func FeedbackPrompt(original string, failures []domain.Attempt, history int) string {
	if len(failures) == 0 {
		return original
	}
	if history < 1 {
		history = 1
	}
	if len(failures) > history {
		failures = failures[len(failures)-history:]
	}

	var b strings.Builder
	b.WriteString(original)
	for _, f := range failures[:len(failures)-1] {
		fmt.Fprintf(&b, ". Attempt %d failed: %s", f.Number, f.Message)
	}
	fmt.Fprintf(&b, ". Fix the following issue: %s", failures[len(failures)-1].Message)
	return b.String()
}

// KeyFor derives the cache key for a prompt sent to a model.
func KeyFor(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + strings.TrimSpace(prompt)))
	return hex.EncodeToString(sum[:])
}
