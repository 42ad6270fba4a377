package dsl

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Op is the typed form of a grammar command. The set of implementations is
// closed: CreateBox, CreateCylinder, Translate, Subtract, Fillet, Export.
type Op interface {
	Kind() Kind
	isOp()
}

// CreateBox defines a rectangular box centered on the origin.
type CreateBox struct {
	ID     string  `mapstructure:"id"`
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
	Depth  float64 `mapstructure:"depth"`
}

// CreateCylinder defines a cylinder along Z centered on the origin.
type CreateCylinder struct {
	ID     string  `mapstructure:"id"`
	Radius float64 `mapstructure:"radius"`
	Height float64 `mapstructure:"height"`
}

// Translate moves an existing solid. Missing axes are zero.
type Translate struct {
	ID string  `mapstructure:"id"`
	X  float64 `mapstructure:"x"`
	Y  float64 `mapstructure:"y"`
	Z  float64 `mapstructure:"z"`
}

// Subtract replaces Target with Target minus Tool.
type Subtract struct {
	Target string `mapstructure:"target"`
	Tool   string `mapstructure:"tool"`
}

// Fillet rounds every edge of a solid.
type Fillet struct {
	ID     string  `mapstructure:"id"`
	Radius float64 `mapstructure:"radius"`
}

// Export writes a solid to Filename. ID is optional; when empty the executor
// picks the main part.
type Export struct {
	Filename string `mapstructure:"filename"`
	ID       string `mapstructure:"id"`
}

func (CreateBox) Kind() Kind      { return KindCreateBox }
func (CreateCylinder) Kind() Kind { return KindCreateCylinder }
func (Translate) Kind() Kind      { return KindTranslate }
func (Subtract) Kind() Kind       { return KindSubtract }
func (Fillet) Kind() Kind         { return KindFillet }
func (Export) Kind() Kind         { return KindExport }

func (CreateBox) isOp()      {}
func (CreateCylinder) isOp() {}
func (Translate) isOp()      {}
func (Subtract) isOp()       {}
func (Fillet) isOp()         {}
func (Export) isOp()         {}

// ArgError reports a command whose arguments do not fit its shape.
type ArgError struct {
	Command string
	Key     string
	Reason  string
}

func (e *ArgError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Command, e.Key, e.Reason)
}

// Op decodes the command into its typed variant. Required arguments must be
// present and numeric arguments must be numbers; extra arguments are ignored.
func (c Command) Op() (Op, error) {
	kind := c.Kind()
	spec, ok := SpecFor(kind)
	if !ok {
		return nil, &ArgError{Command: c.Name, Reason: "unknown command"}
	}
	for _, key := range spec.Required {
		if !c.Has(key) {
			return nil, &ArgError{Command: kind.String(), Key: key, Reason: "is missing"}
		}
	}

	raw := make(map[string]any, len(c.Args))
	for _, arg := range c.Args {
		if spec.IsNumeric(arg.Key) {
			if n, ok := arg.Value.Number(); ok {
				raw[arg.Key] = n
				continue
			}
			return nil, &ArgError{Command: kind.String(), Key: arg.Key, Reason: "must be a number"}
		}
		raw[arg.Key] = arg.Value.Text()
	}

	switch kind {
	case KindCreateBox:
		return decodeOp[CreateBox](raw)
	case KindCreateCylinder:
		return decodeOp[CreateCylinder](raw)
	case KindTranslate:
		return decodeOp[Translate](raw)
	case KindSubtract:
		return decodeOp[Subtract](raw)
	case KindFillet:
		return decodeOp[Fillet](raw)
	case KindExport:
		return decodeOp[Export](raw)
	default:
		return nil, &ArgError{Command: c.Name, Reason: "unknown command"}
	}
}

func decodeOp[T Op](raw map[string]any) (Op, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", out.Kind(), err)
	}
	return out, nil
}
