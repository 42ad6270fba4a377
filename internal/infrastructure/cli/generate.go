package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/cadsmith/internal/domain"
)

// ErrNoPart is returned when a generate run ends without a valid program.
var ErrNoPart = errors.New("no valid program generated")

// ErrInvalid is returned by validate for rejected programs so the process
// exits non-zero.
var ErrInvalid = errors.New("program is invalid")

func (a *App) newGenerateCommand() *cobra.Command {
	var (
		attempts  int
		outputDir string
		model     string
		noCache   bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate [description]",
		Short: "Generate a part from a natural-language description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.withTimeout(cmd.Context(), timeout)
			defer cancel()

			stop := startSpinner(cmd.ErrOrStderr())
			res, err := a.container.GenerateService.Run(ctx, domain.GenerationRequest{
				Prompt:        strings.Join(args, " "),
				MaxAttempts:   attempts,
				OutputDir:     outputDir,
				ModelOverride: model,
				NoCache:       noCache,
			})
			stop()

			RenderResult(cmd.OutOrStdout(), res, a.verbose)
			if err != nil {
				return err
			}
			if res.Outcome == domain.OutcomeExhausted {
				return fmt.Errorf("%w after %d attempts", ErrNoPart, len(res.Attempts))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&attempts, "attempts", "n", 0, "Generation attempts before giving up (default from config)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for exported artifacts (default from config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override model name (default from config)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the program cache")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall deadline (default from config)")
	return cmd
}

func (a *App) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Parse and validate a DSL program without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readProgram(cmd, args[0])
			if err != nil {
				return err
			}
			parsed, verdict, err := a.container.GenerateService.Check(cmd.Context(), text)
			if err != nil {
				return err
			}
			RenderVerdict(cmd.OutOrStdout(), parsed, verdict)
			if !verdict.Valid {
				return ErrInvalid
			}
			return nil
		},
	}
}

func (a *App) newRunCommand() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Validate a DSL program and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readProgram(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.withTimeout(cmd.Context(), 0)
			defer cancel()

			res, err := a.container.GenerateService.Execute(ctx, text, outputDir)
			RenderResult(cmd.OutOrStdout(), res, a.verbose)
			return err
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for exported artifacts (default from config)")
	return cmd
}

// withTimeout applies d, or the configured timeout when d is zero.
func (a *App) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = a.container.Config.Timeout()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func readProgram(cmd *cobra.Command, arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
