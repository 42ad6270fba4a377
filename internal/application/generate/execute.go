package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
)

// ErrInvalidProgram is returned by Execute for programs the validator
// rejects. The verdict message is part of the error text.
var ErrInvalidProgram = errors.New("invalid program")

// DirectModel is the model name recorded for programs that were supplied
// rather than generated.
const DirectModel = "dsl"

// Check parses and validates text with the configured validator settings.
func (s *Service) Check(ctx context.Context, text string) (dsl.ParseResult, dsl.Result, error) {
	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		return dsl.ParseResult{}, dsl.Result{}, fmt.Errorf("load config: %w", err)
	}
	parsed, verdict := check(cfg, text)
	return parsed, verdict, nil
}

func check(cfg domain.Config, text string) (dsl.ParseResult, dsl.Result) {
	parsed := dsl.Parse(text)
	return parsed, dsl.NewValidator(dsl.WithRequireExport(cfg.ExportRequired())).Validate(parsed.Sequence)
}

// Execute validates a program written by hand and runs it, skipping the
// generator. The run is recorded in history like a generated one.
func (s *Service) Execute(ctx context.Context, text, outputDir string) (domain.GenerationResult, error) {
	started := time.Now()
	result := domain.GenerationResult{RunID: uuid.NewString(), Model: DirectModel}

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("load config: %w", err)
	}
	if outputDir == "" {
		outputDir = cfg.OutputDir()
	}

	parsed, verdict := check(cfg, text)
	result.Attempts = []domain.Attempt{newAttempt(1, "", text, parsed, verdict)}

	if verdict.Valid {
		r := run{svc: s, outputDir: outputDir}
		err = r.runProgram(ctx, parsed.Sequence, &result)
	} else {
		s.metrics().ObserveValidationFailure(string(verdict.Rule))
		result.Outcome = domain.OutcomeError
		err = fmt.Errorf("%w: %s", ErrInvalidProgram, verdict.Message)
	}

	result.Duration = time.Since(started)
	s.finish(ctx, result, text, err)
	return result, err
}
