// Package cadquery drives CadQuery through a Python interpreter. Each Solid
// records the CadQuery call that builds it; nothing runs until Export, which
// writes a script and lets CadQuery produce the STEP/STL file. The script
// evaluates one checked step per operation, so a failure such as an
// impossible fillet comes back as a *ports.StepError naming that Solid.
package cadquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

var ErrForeignSolid = errors.New("cadquery: solid was not created by this kernel")

// Solid is one CadQuery call applied to its inputs.
type Solid struct {
	expr   string
	call   func(in ...string) string
	inputs []*Solid
}

func leaf(expr string) *Solid {
	return &Solid{expr: expr, call: func(...string) string { return expr }}
}

func derive(call func(in ...string) string, inputs ...*Solid) *Solid {
	exprs := make([]string, len(inputs))
	for i, in := range inputs {
		exprs[i] = in.expr
	}
	return &Solid{expr: call(exprs...), call: call, inputs: inputs}
}

// Expr returns the Python expression that builds the solid.
func (s *Solid) Expr() string { return s.expr }

// Kernel implements ports.Kernel on top of a python3 with cadquery
// installed.
type Kernel struct {
	python string
}

// New returns a kernel that runs python. An empty name means python3.
func New(python string) *Kernel {
	if python == "" {
		python = "python3"
	}
	return &Kernel{python: python}
}

func (k *Kernel) Name() string { return domain.KernelCadQuery }

func (k *Kernel) CreateBox(width, height, depth float64) (ports.Solid, error) {
	return leaf(fmt.Sprintf(`cq.Workplane("XY").box(%s, %s, %s)`, f(width), f(height), f(depth))), nil
}

func (k *Kernel) CreateCylinder(radius, height float64) (ports.Solid, error) {
	return leaf(fmt.Sprintf(`cq.Workplane("XY").cylinder(%s, %s)`, f(height), f(radius))), nil
}

func (k *Kernel) Translate(s ports.Solid, x, y, z float64) (ports.Solid, error) {
	solid, err := own(s)
	if err != nil {
		return nil, err
	}
	return derive(func(in ...string) string {
		return fmt.Sprintf("%s.translate((%s, %s, %s))", in[0], f(x), f(y), f(z))
	}, solid), nil
}

func (k *Kernel) Subtract(target, tool ports.Solid) (ports.Solid, error) {
	t, err := own(target)
	if err != nil {
		return nil, err
	}
	c, err := own(tool)
	if err != nil {
		return nil, err
	}
	return derive(func(in ...string) string {
		return fmt.Sprintf("%s.cut(%s)", in[0], in[1])
	}, t, c), nil
}

func (k *Kernel) Fillet(s ports.Solid, radius float64) (ports.Solid, error) {
	solid, err := own(s)
	if err != nil {
		return nil, err
	}
	return derive(func(in ...string) string {
		return fmt.Sprintf("%s.edges().fillet(%s)", in[0], f(radius))
	}, solid), nil
}

const scriptHeader = `import sys
import cadquery as cq
from cadquery import exporters


def step(n, build):
    try:
        return build()
    except Exception as exc:
        sys.stderr.write("cadsmith-step %d: %s: %s\n" % (n, type(exc).__name__, exc))
        sys.exit(3)


`

var stepFailure = regexp.MustCompile(`(?m)^cadsmith-step (\d+): (.*)$`)

// Script renders the Python program that exports s to the path given as its
// first argument.
func (k *Kernel) Script(s ports.Solid) (string, error) {
	script, _, err := k.render(s)
	return script, err
}

// render assigns every distinct solid reachable from s a step number, inputs
// first. steps[n-1] is the solid built by step n.
func (k *Kernel) render(s ports.Solid) (string, []*Solid, error) {
	solid, err := own(s)
	if err != nil {
		return "", nil, err
	}
	var (
		b     strings.Builder
		steps []*Solid
		names = make(map[*Solid]string)
	)
	var visit func(*Solid) string
	visit = func(node *Solid) string {
		if name, ok := names[node]; ok {
			return name
		}
		in := make([]string, len(node.inputs))
		for i, input := range node.inputs {
			in[i] = visit(input)
		}
		steps = append(steps, node)
		name := fmt.Sprintf("s%d", len(steps))
		names[node] = name
		fmt.Fprintf(&b, "%s = step(%d, lambda: %s)\n", name, len(steps), node.call(in...))
		return name
	}

	body := visit(solid)
	return scriptHeader + b.String() + "part = " + body + "\nexporters.export(part, sys.argv[1])\n", steps, nil
}

// Export runs the script. CadQuery writes to a temp name next to path, which
// is renamed into place once the interpreter exits cleanly. A failing step
// is reported as a *ports.StepError; anything else surfaces as the
// interpreter's last stderr line.
func (k *Kernel) Export(ctx context.Context, s ports.Solid, path string) error {
	script, steps, err := k.render(s)
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "cadsmith-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	scriptPath := filepath.Join(tmpDir, "part.py")
	if err := os.WriteFile(scriptPath, []byte(script), domain.ArtifactPermissions); err != nil {
		return err
	}

	// Keep the extension so CadQuery picks the exporter from it.
	staging := filepath.Join(filepath.Dir(path), ".cadsmith-"+filepath.Base(path))
	cmd := exec.CommandContext(ctx, k.python, scriptPath, staging)
	cmd.Dir = tmpDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(staging)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if m := stepFailure.FindStringSubmatch(stderr.String()); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil && n >= 1 && n <= len(steps) {
				return &ports.StepError{Solid: steps[n-1], Err: fmt.Errorf("cadquery: %s", m[2])}
			}
		}
		return fmt.Errorf("cadquery: %s", lastLine(stderr.String(), err))
	}
	if err := os.Rename(staging, path); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("cadquery: artifact not generated: %w", err)
	}
	return nil
}

// Available reports whether the interpreter can import cadquery.
func (k *Kernel) Available(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, k.python, "-c", "import cadquery")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %s", k.python, lastLine(stderr.String(), err))
	}
	return nil
}

func own(s ports.Solid) (*Solid, error) {
	solid, ok := s.(*Solid)
	if !ok || solid == nil {
		return nil, ErrForeignSolid
	}
	return solid, nil
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func lastLine(stderr string, fallback error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return fallback.Error()
}
