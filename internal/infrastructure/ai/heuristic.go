package ai

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
	"github.com/doeshing/cadsmith/internal/ports"
)

// heuristicGenerator writes programs for a handful of common phrasings
// without calling a model: boxes and plates given as WxHxD, cylinders given
// by radius or diameter and height, through holes, and rounded edges.
type heuristicGenerator struct {
	model domain.ModelDefinition
}

// NewHeuristicGenerator returns the offline generator.
func NewHeuristicGenerator(model domain.ModelDefinition) ports.Generator {
	return &heuristicGenerator{model: model}
}

func (p *heuristicGenerator) Name() string {
	return "heuristic"
}

func (p *heuristicGenerator) Model() domain.ModelDefinition {
	return p.model
}

func (p *heuristicGenerator) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return dsl.Format(guessProgram(req.Prompt)), nil
}

const num = `(\d+(?:\.\d+)?)`

var (
	dimsPattern     = regexp.MustCompile(num + `\s*(?:mm)?\s*[x×]\s*` + num + `\s*(?:mm)?\s*[x×]\s*` + num)
	radiusPattern   = regexp.MustCompile(`radius\s*(?:of\s*)?` + num + `|` + num + `\s*(?:mm\s*)?radius`)
	diameterPattern = regexp.MustCompile(`diameter\s*(?:of\s*)?` + num + `|` + num + `\s*(?:mm\s*)?diameter`)
	heightPattern   = regexp.MustCompile(`(?:height|tall|long)\s*(?:of\s*)?` + num + `|` + num + `\s*(?:mm\s*)?(?:tall|high|long)`)
	holeCount       = regexp.MustCompile(`\b(a|an|one|two|three|four|five|six|\d+)\s+(?:[\w.]+\s+){0,3}holes?\b`)
	spacingPattern  = regexp.MustCompile(`spaced\s*(?:by\s*)?` + num)
	filletPattern   = regexp.MustCompile(`(?:fillet(?:ed)?|round(?:ed)?)[^\d.]{0,24}` + num)
	feedbackMarker  = regexp.MustCompile(`\.\s*(?:Fix the following issue|Attempt \d+ failed):`)
)

var countWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
}

// guessProgram ignores any feedback appended to the request; the heuristic
// cannot learn from it.
func guessProgram(prompt string) dsl.Sequence {
	if loc := feedbackMarker.FindStringIndex(prompt); loc != nil {
		prompt = prompt[:loc[0]]
	}
	text := strings.ToLower(prompt)

	b := &programBuilder{}
	switch {
	case dimsPattern.MatchString(text):
		m := dimsPattern.FindStringSubmatch(text)
		w, h, d := atof(m[1]), atof(m[2]), atof(m[3])
		part := boxName(text)
		b.add("CREATE_BOX", "id", part, "width", w, "height", h, "depth", d)
		holes, ok := guessHoles(text, w, h)
		if !ok {
			return nil
		}
		for i, pos := range holes.positions {
			id := fmt.Sprintf("hole%d", i+1)
			b.add("CREATE_CYLINDER", "id", id, "radius", holes.radius, "height", d*2)
			if pos[0] != 0 || pos[1] != 0 {
				b.add("TRANSLATE", "id", id, "x", pos[0], "y", pos[1], "z", 0.0)
			}
		}
		for i := range holes.positions {
			b.add("SUBTRACT", "target", part, "tool", fmt.Sprintf("hole%d", i+1))
		}
		b.fillet(text, part)
		b.export(part, len(holes.positions))

	case strings.Contains(text, "cylinder") || strings.Contains(text, "rod") || strings.Contains(text, "disc"):
		r := 0.0
		if m := radiusPattern.FindStringSubmatch(text); m != nil {
			r = atof(firstNonEmpty(m[1:]...))
		} else if m := diameterPattern.FindStringSubmatch(text); m != nil {
			r = atof(firstNonEmpty(m[1:]...)) / 2
		}
		h := 0.0
		if m := heightPattern.FindStringSubmatch(text); m != nil {
			h = atof(firstNonEmpty(m[1:]...))
		}
		if r <= 0 || h <= 0 {
			return nil
		}
		b.add("CREATE_CYLINDER", "id", "cyl1", "radius", r, "height", h)
		b.fillet(text, "cyl1")
		b.export("cylinder", 0)
	}
	return b.seq
}

type holePlan struct {
	radius    float64
	positions [][2]float64
}

// maxHoles bounds the program size for a single prompt.
const maxHoles = 16

// guessHoles reports false when the prompt asks for more than maxHoles.
func guessHoles(text string, w, h float64) (holePlan, bool) {
	m := holeCount.FindStringSubmatch(text)
	if m == nil {
		return holePlan{}, true
	}
	count, ok := countWords[m[1]]
	if !ok {
		var err error
		if count, err = strconv.Atoi(m[1]); err != nil {
			// Too many digits for an int.
			return holePlan{}, false
		}
	}
	if count <= 0 {
		return holePlan{}, true
	}
	if count > maxHoles {
		return holePlan{}, false
	}

	plan := holePlan{radius: math.Min(w, h) / 10}
	if rm := radiusPattern.FindStringSubmatch(text); rm != nil {
		plan.radius = atof(firstNonEmpty(rm[1:]...))
	} else if dm := diameterPattern.FindStringSubmatch(text); dm != nil {
		plan.radius = atof(firstNonEmpty(dm[1:]...)) / 2
	}

	switch {
	case count == 4 && strings.Contains(text, "corner"):
		mx, my := w/2-2*plan.radius, h/2-2*plan.radius
		plan.positions = [][2]float64{{-mx, -my}, {mx, -my}, {-mx, my}, {mx, my}}
	case count == 1:
		plan.positions = [][2]float64{{0, 0}}
	default:
		spacing := w / float64(count+1)
		if sm := spacingPattern.FindStringSubmatch(text); sm != nil && count > 1 {
			spacing = atof(sm[1])
		}
		start := -spacing * float64(count-1) / 2
		for i := 0; i < count; i++ {
			plan.positions = append(plan.positions, [2]float64{start + spacing*float64(i), 0})
		}
	}
	return plan, true
}

type programBuilder struct {
	seq dsl.Sequence
}

// add appends a command from alternating key/value pairs.
func (b *programBuilder) add(name string, kv ...interface{}) {
	cmd := dsl.Command{Name: name, Line: len(b.seq) + 1}
	for i := 0; i+1 < len(kv); i += 2 {
		key := kv[i].(string)
		switch v := kv[i+1].(type) {
		case float64:
			cmd.Args = append(cmd.Args, dsl.Arg{Key: key, Value: dsl.NumberValue(round(v))})
		case string:
			cmd.Args = append(cmd.Args, dsl.Arg{Key: key, Value: dsl.StringValue(v)})
		}
	}
	b.seq = append(b.seq, cmd)
}

func (b *programBuilder) fillet(text, id string) {
	m := filletPattern.FindStringSubmatch(text)
	if m == nil {
		if strings.Contains(text, "rounded") || strings.Contains(text, "fillet") {
			b.add("FILLET", "id", id, "radius", 1.0)
		}
		return
	}
	b.add("FILLET", "id", id, "radius", atof(m[1]))
}

func (b *programBuilder) export(part string, holes int) {
	name := part
	switch {
	case holes == 1:
		name += "_with_hole"
	case holes > 1:
		name += "_with_holes"
	}
	b.add("EXPORT", "filename", name+".step")
}

func boxName(text string) string {
	for _, word := range []string{"plate", "block", "bracket", "base"} {
		if strings.Contains(text, word) {
			return word
		}
	}
	return "box1"
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// round keeps two decimals so values stay within the number grammar.
func round(f float64) float64 {
	return math.Round(f*100) / 100
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
