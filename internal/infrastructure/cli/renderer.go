package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
)

// RenderResult prints a generation or execution result in a plain ASCII
// format. Verbose output includes every attempt's program.
func RenderResult(out io.Writer, res domain.GenerationResult, verbose bool) {
	if res.RunID == "" {
		return
	}
	fmt.Fprintf(out, "Run: %s\n", res.RunID)
	fmt.Fprintf(out, "Model: %s\n", res.Model)
	if res.FromCache {
		fmt.Fprintln(out, "Note: program served from cache")
	}

	for _, attempt := range res.Attempts {
		status := "ok"
		if !attempt.Valid {
			status = "rejected"
		}
		fmt.Fprintf(out, "\nAttempt %d: %s - %s\n", attempt.Number, status, attempt.Message)
		for _, token := range attempt.Dropped {
			fmt.Fprintf(out, "  dropped token %s\n", token)
		}
		for _, w := range attempt.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		if verbose || attempt.Number == len(res.Attempts) {
			fmt.Fprintln(out, indent(attempt.DSL))
		}
	}

	fmt.Fprintln(out)
	switch res.Outcome {
	case domain.OutcomeSuccess:
		fmt.Fprintf(out, "Exported: %s\n", res.ArtifactPath)
	case domain.OutcomeNoArtifact:
		fmt.Fprintln(out, "Program ran but never exported an artifact.")
	case domain.OutcomeExhausted:
		fmt.Fprintf(out, "Gave up after %d attempts.\n", len(res.Attempts))
	case domain.OutcomeError:
		fmt.Fprintln(out, "Run failed.")
	}
	fmt.Fprintf(out, "Elapsed: %s\n", res.Duration.Round(time.Millisecond))
}

// RenderVerdict prints a validator verdict with the tokens the parser
// dropped.
func RenderVerdict(out io.Writer, parsed dsl.ParseResult, verdict dsl.Result) {
	if verdict.Valid {
		fmt.Fprintf(out, "VALID (%d commands)\n", len(parsed.Sequence))
	} else {
		fmt.Fprintf(out, "INVALID: %s\n", verdict.Message)
		if verdict.Line > 0 {
			fmt.Fprintf(out, "  line %d, rule %s\n", verdict.Line, verdict.Rule)
		}
	}
	for _, d := range parsed.Dropped {
		fmt.Fprintf(out, "  dropped token %q on line %d\n", d.Token, d.Line)
	}
	for _, w := range verdict.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}

func renderHealthReport(out io.Writer, report domain.HealthReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(out, "[%s] %s - %s\n", strings.ToUpper(string(check.Status)), check.Name, check.Details)
	}
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n")
}
