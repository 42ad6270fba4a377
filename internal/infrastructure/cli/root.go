package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/doeshing/cadsmith/internal/app"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose bool
	// Stdin, Stdout and Stderr default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// annotation key for commands that run without the container.
const standalone = "cadsmith/standalone"

// App owns the root command and the lazily built container.
type App struct {
	opts       Options
	configPath string
	verbose    bool
	container  *app.Container
	root       *cobra.Command
}

// New wires the cobra command tree.
func New(opts Options) *App {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	a := &App{opts: opts}

	root := &cobra.Command{
		Use:   "cadsmith",
		Short: "cadsmith - natural language to CAD parts",
		Long: "cadsmith turns part descriptions into a small CAD command language,\n" +
			"validates the program and runs it through a geometry kernel.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[standalone] != "" {
				return nil
			}
			return a.build(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default $CADSMITH_CONFIG or ~/.cadsmith/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", opts.Verbose, "Enable debug logging")

	root.AddCommand(
		a.newGenerateCommand(),
		a.newValidateCommand(),
		a.newRunCommand(),
		a.newHistoryCommand(),
		a.newCacheCommand(),
		a.newConfigCommand(),
		a.newDoctorCommand(),
		a.newServeCommand(),
		a.newMCPCommand(),
		newVersionCommand(),
	)
	a.root = root
	return a
}

// Root exposes the command tree.
func (a *App) Root() *cobra.Command { return a.root }

// Execute runs the command line and releases the container afterwards.
func (a *App) Execute(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	err := a.root.ExecuteContext(ctx)
	if a.container != nil {
		err = errors.Join(err, a.container.Close())
		a.container = nil
	}
	return err
}

func (a *App) build(ctx context.Context) error {
	if a.container != nil {
		return nil
	}
	c, err := app.BuildContainer(ctx, app.Options{
		ConfigPath: a.configPath,
		Verbose:    a.verbose,
		LogOutput:  a.opts.Stderr,
	})
	if err != nil {
		return err
	}
	a.container = c
	return nil
}
