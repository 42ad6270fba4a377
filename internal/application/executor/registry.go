package executor

import (
	"errors"
	"fmt"

	"github.com/doeshing/cadsmith/internal/ports"
)

// registry maps identifiers to solids for a single run. The first created
// solid is the main part; SUBTRACT keeps the tool registered.
type registry struct {
	solids map[string]ports.Solid
	order  []string
	main   string

	// origins remembers which command produced each handle.
	origins map[ports.Solid]origin
	current origin
}

type origin struct {
	line    int
	command string
}

func newRegistry() *registry {
	return &registry{
		solids:  make(map[string]ports.Solid),
		origins: make(map[ports.Solid]origin),
	}
}

func (r *registry) create(id string, s ports.Solid) {
	if _, exists := r.solids[id]; !exists {
		r.order = append(r.order, id)
	}
	r.solids[id] = s
	r.origins[s] = r.current
	if r.main == "" {
		r.main = id
	}
}

func (r *registry) replace(id string, s ports.Solid) {
	r.solids[id] = s
	r.origins[s] = r.current
}

// originOf reports the command that produced s.
func (r *registry) originOf(s ports.Solid) (origin, bool) {
	o, ok := r.origins[s]
	return o, ok
}

func (r *registry) get(id string) (ports.Solid, error) {
	s, ok := r.solids[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSolid, id)
	}
	return s, nil
}

// mainPart falls back to the most recently registered solid when no main
// part was recorded.
func (r *registry) mainPart() (ports.Solid, error) {
	if r.main != "" {
		return r.get(r.main)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("%w: nothing to export", ErrUnknownSolid)
	}
	return r.get(r.order[len(r.order)-1])
}

// blame wraps err in an ExecError for the current command, or for the
// command that built the failing solid when the kernel deferred the work.
func (r *registry) blame(err error) *ExecError {
	at := r.current
	var stepErr *ports.StepError
	if errors.As(err, &stepErr) {
		if o, ok := r.originOf(stepErr.Solid); ok {
			at = o
		}
	}
	return &ExecError{Line: at.line, Command: at.command, Err: err}
}
