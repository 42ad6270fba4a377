// Package dsl implements the part-construction command language.
//
// A program is plain text, one command per line:
//
//	CREATE_BOX id=plate width=40 height=20 depth=5
//	CREATE_CYLINDER id=hole1 radius=3 height=10
//	SUBTRACT target=plate tool=hole1
//	EXPORT filename="plate_with_hole.step"
//
// The package is split the way the pipeline is: Parse turns text into a
// Sequence, Validator checks referential and numeric integrity, and Op decodes
// a single Command into its typed variant for execution. Nothing here touches
// geometry.
package dsl

import (
	"sort"
	"strconv"
	"strings"
)

// Kind is the closed set of grammar commands.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateBox
	KindCreateCylinder
	KindTranslate
	KindSubtract
	KindFillet
	KindExport
)

var kindNames = map[Kind]string{
	KindCreateBox:      "CREATE_BOX",
	KindCreateCylinder: "CREATE_CYLINDER",
	KindTranslate:      "TRANSLATE",
	KindSubtract:       "SUBTRACT",
	KindFillet:         "FILLET",
	KindExport:         "EXPORT",
}

var kindsByName = func() map[string]Kind {
	out := make(map[string]Kind, len(kindNames))
	for kind, name := range kindNames {
		out[name] = kind
	}
	return out
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Creates reports whether the command defines a new solid.
func (k Kind) Creates() bool {
	return k == KindCreateBox || k == KindCreateCylinder
}

// KindOf resolves a command name case-insensitively.
func KindOf(name string) Kind {
	if kind, ok := kindsByName[strings.ToUpper(name)]; ok {
		return kind
	}
	return KindUnknown
}

// Kinds lists every grammar command in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for kind := range kindNames {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ArgSpec describes the argument shape of one command.
type ArgSpec struct {
	Kind     Kind
	Required []string
	Optional []string
	// Numeric lists the keys whose values must be numbers.
	Numeric []string
}

// IsNumeric reports whether key must carry a number.
func (s ArgSpec) IsNumeric(key string) bool {
	for _, k := range s.Numeric {
		if k == key {
			return true
		}
	}
	return false
}

var grammar = map[Kind]ArgSpec{
	KindCreateBox: {
		Kind:     KindCreateBox,
		Required: []string{"id", "width", "height", "depth"},
		Numeric:  []string{"width", "height", "depth"},
	},
	KindCreateCylinder: {
		Kind:     KindCreateCylinder,
		Required: []string{"id", "radius", "height"},
		Numeric:  []string{"radius", "height"},
	},
	KindTranslate: {
		Kind:     KindTranslate,
		Required: []string{"id"},
		Optional: []string{"x", "y", "z"},
		Numeric:  []string{"x", "y", "z"},
	},
	KindSubtract: {
		Kind:     KindSubtract,
		Required: []string{"target", "tool"},
	},
	KindFillet: {
		Kind:     KindFillet,
		Required: []string{"id", "radius"},
		Numeric:  []string{"radius"},
	},
	KindExport: {
		Kind:     KindExport,
		Required: []string{"filename"},
		Optional: []string{"id"},
	},
}

// Usage renders the command as a template line, the way it is presented to
// text generators:
//
//	CREATE_CYLINDER id=<id> radius=<float> height=<float>
//	EXPORT filename="<filename>" [id=<id>]
func (s ArgSpec) Usage() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	placeholder := func(key string) string {
		switch {
		case s.IsNumeric(key):
			return key + "=<float>"
		case key == "filename":
			return `filename="<filename>"`
		default:
			return key + "=<id>"
		}
	}
	for _, key := range s.Required {
		b.WriteString(" " + placeholder(key))
	}
	for _, key := range s.Optional {
		if s.IsNumeric(key) {
			b.WriteString(" " + placeholder(key))
			continue
		}
		b.WriteString(" [" + placeholder(key) + "]")
	}
	return b.String()
}

// SpecFor returns the argument shape for a grammar command.
func SpecFor(kind Kind) (ArgSpec, bool) {
	spec, ok := grammar[kind]
	return spec, ok
}

// positiveKeys must be strictly positive wherever they appear.
var positiveKeys = map[string]bool{
	"width":  true,
	"height": true,
	"depth":  true,
	"radius": true,
}

// Value is a single argument value: either a number or a string. The raw
// token text is kept so identifiers such as id=1 survive unchanged.
type Value struct {
	raw   string
	num   float64
	isNum bool
}

// StringValue builds a string value.
func StringValue(s string) Value {
	return Value{raw: s}
}

// NumberValue builds a numeric value.
func NumberValue(f float64) Value {
	return Value{raw: strconv.FormatFloat(f, 'f', -1, 64), num: f, isNum: true}
}

// Number returns the numeric value and whether the value is numeric.
func (v Value) Number() (float64, bool) {
	return v.num, v.isNum
}

// IsNumber reports whether the value was coerced to a number.
func (v Value) IsNumber() bool {
	return v.isNum
}

// Text returns the value as written, without surrounding quotes.
func (v Value) Text() string {
	return v.raw
}

func (v Value) String() string {
	return v.raw
}

// Arg is one key=value pair.
type Arg struct {
	Key   string
	Value Value
}

// Command is one parsed line. Name is kept exactly as written; use Kind for
// case-insensitive matching.
type Command struct {
	Name string
	Args []Arg
	Line int
}

// Kind resolves the command name against the grammar.
func (c Command) Kind() Kind {
	return KindOf(c.Name)
}

// Get looks up an argument. When a key repeats, the last one wins.
func (c Command) Get(key string) (Value, bool) {
	for i := len(c.Args) - 1; i >= 0; i-- {
		if c.Args[i].Key == key {
			return c.Args[i].Value, true
		}
	}
	return Value{}, false
}

// Has reports whether key is present with a non-empty value.
func (c Command) Has(key string) bool {
	v, ok := c.Get(key)
	return ok && v.raw != ""
}

// Text returns the raw text of an argument, or "" when missing.
func (c Command) Text(key string) string {
	v, _ := c.Get(key)
	return v.raw
}

// Sequence is an ordered part-construction program.
type Sequence []Command

func (s Sequence) String() string {
	return Format(s)
}
