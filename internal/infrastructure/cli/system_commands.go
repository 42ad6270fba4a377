package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/doeshing/cadsmith/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show cadsmith version information",
		Annotations: map[string]string{standalone: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			displayVersionInformation(cmd.OutOrStdout())
			return nil
		},
	}
}

func displayVersionInformation(out io.Writer) {
	fmt.Fprintf(out, "cadsmith version %s\n", version.Version)
	if version.Commit != "" {
		fmt.Fprintf(out, "Commit: %s\n", version.Commit)
	}
	if version.BuildDate != "" {
		fmt.Fprintf(out, "Built: %s\n", version.BuildDate)
	}
	fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
}
