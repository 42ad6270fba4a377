// Package executor replays a validated command sequence against a geometry
// kernel and writes the exported artifact.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
	"github.com/doeshing/cadsmith/internal/ports"
)

var (
	// ErrUnknownSolid is returned when a command names a solid that is not in
	// the registry. The validator rules this out; unvalidated input can still
	// reach it.
	ErrUnknownSolid = errors.New("unknown solid")
	// ErrUnsafeFilename is returned when EXPORT would write outside the output
	// directory.
	ErrUnsafeFilename = errors.New("export filename escapes output directory")
)

// ExecError ties a failure to the command that caused it.
type ExecError struct {
	Line    int
	Command string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Command, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Executor drives a kernel. It holds no per-run state and may be shared.
type Executor struct {
	kernel  ports.Kernel
	logger  ports.Logger
	metrics ports.Metrics
}

// New builds an executor. Nil logger or metrics are replaced with no-ops.
func New(kernel ports.Kernel, logger ports.Logger, metrics ports.Metrics) *Executor {
	if logger == nil {
		logger = ports.NopLogger{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Executor{kernel: kernel, logger: logger, metrics: metrics}
}

// Kernel returns the kernel this executor drives.
func (e *Executor) Kernel() ports.Kernel { return e.kernel }

// Run executes seq in order. It returns the artifact path at the first
// EXPORT, or an empty path when the sequence never exports. Commands after
// the first EXPORT are not executed.
func (e *Executor) Run(ctx context.Context, seq dsl.Sequence, outputDir string) (string, error) {
	reg := newRegistry()

	for _, cmd := range seq {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		op, err := cmd.Op()
		if err != nil {
			return "", &ExecError{Line: cmd.Line, Command: cmd.Name, Err: err}
		}
		e.metrics.ObserveCommand(op.Kind().String())
		e.logger.Debug("execute command", map[string]interface{}{
			"line":    cmd.Line,
			"command": op.Kind().String(),
			"kernel":  e.kernel.Name(),
		})

		reg.current = origin{line: cmd.Line, command: op.Kind().String()}
		path, done, err := e.apply(ctx, reg, op, outputDir)
		if err != nil {
			return "", reg.blame(err)
		}
		if done {
			return path, nil
		}
	}
	return "", nil
}

func (e *Executor) apply(ctx context.Context, reg *registry, op dsl.Op, outputDir string) (string, bool, error) {
	switch op := op.(type) {
	case dsl.CreateBox:
		solid, err := e.kernel.CreateBox(op.Width, op.Height, op.Depth)
		if err != nil {
			return "", false, err
		}
		reg.create(op.ID, solid)

	case dsl.CreateCylinder:
		solid, err := e.kernel.CreateCylinder(op.Radius, op.Height)
		if err != nil {
			return "", false, err
		}
		reg.create(op.ID, solid)

	case dsl.Translate:
		solid, err := reg.get(op.ID)
		if err != nil {
			return "", false, err
		}
		moved, err := e.kernel.Translate(solid, op.X, op.Y, op.Z)
		if err != nil {
			return "", false, err
		}
		reg.replace(op.ID, moved)

	case dsl.Subtract:
		target, err := reg.get(op.Target)
		if err != nil {
			return "", false, err
		}
		tool, err := reg.get(op.Tool)
		if err != nil {
			return "", false, err
		}
		cut, err := e.kernel.Subtract(target, tool)
		if err != nil {
			return "", false, err
		}
		reg.replace(op.Target, cut)

	case dsl.Fillet:
		solid, err := reg.get(op.ID)
		if err != nil {
			return "", false, err
		}
		rounded, err := e.kernel.Fillet(solid, op.Radius)
		if err != nil {
			return "", false, err
		}
		reg.replace(op.ID, rounded)

	case dsl.Export:
		path, err := e.export(ctx, reg, op, outputDir)
		return path, err == nil, err

	default:
		return "", false, fmt.Errorf("unsupported command %s", op.Kind())
	}
	return "", false, nil
}

func (e *Executor) export(ctx context.Context, reg *registry, op dsl.Export, outputDir string) (string, error) {
	if !filepath.IsLocal(op.Filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, op.Filename)
	}

	var (
		solid ports.Solid
		err   error
	)
	if op.ID != "" {
		solid, err = reg.get(op.ID)
	} else {
		solid, err = reg.mainPart()
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, domain.DirectoryPermissions); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, op.Filename)
	if err := e.kernel.Export(ctx, solid, path); err != nil {
		return "", fmt.Errorf("export %s: %w", path, err)
	}
	e.logger.Info("artifact exported", map[string]interface{}{"path": path})
	return path, nil
}
