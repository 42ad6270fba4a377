package dsl_test

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cadsmith/internal/dsl"
)

type flatArg struct {
	Key    string
	Text   string
	Number bool
}

type flatCommand struct {
	Name string
	Line int
	Args []flatArg
}

func flatten(seq dsl.Sequence) []flatCommand {
	out := make([]flatCommand, 0, len(seq))
	for _, cmd := range seq {
		fc := flatCommand{Name: cmd.Name, Line: cmd.Line}
		for _, arg := range cmd.Args {
			fc.Args = append(fc.Args, flatArg{Key: arg.Key, Text: arg.Value.Text(), Number: arg.Value.IsNumber()})
		}
		out = append(out, fc)
	}
	return out
}

func TestParse_BoxScenario(t *testing.T) {
	res := dsl.Parse("CREATE_BOX id=box1 width=30 height=20 depth=10\nEXPORT filename=\"box1.step\"")

	want := []flatCommand{
		{Name: "CREATE_BOX", Line: 1, Args: []flatArg{
			{Key: "id", Text: "box1"},
			{Key: "width", Text: "30", Number: true},
			{Key: "height", Text: "20", Number: true},
			{Key: "depth", Text: "10", Number: true},
		}},
		{Name: "EXPORT", Line: 2, Args: []flatArg{{Key: "filename", Text: "box1.step"}}},
	}
	if diff := cmp.Diff(want, flatten(res.Sequence)); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Dropped)
}

func TestParse_SkipsCommentsBlanksAndFences(t *testing.T) {
	text := "```\n# a plate\n\n   \nCREATE_BOX id=p width=1 height=1 depth=1\n```\n"
	res := dsl.Parse(text)

	require.Len(t, res.Sequence, 1)
	assert.Equal(t, "CREATE_BOX", res.Sequence[0].Name)
	assert.Equal(t, 5, res.Sequence[0].Line)
}

func TestParse_NumericCoercion(t *testing.T) {
	res := dsl.Parse("TRANSLATE id=a x=-20 y=2.5 z=1e3 w=3. v=.5")
	require.Len(t, res.Sequence, 1)
	cmd := res.Sequence[0]

	x, ok := cmd.Get("x")
	require.True(t, ok)
	n, isNum := x.Number()
	assert.True(t, isNum)
	assert.Equal(t, -20.0, n)

	y, _ := cmd.Get("y")
	n, _ = y.Number()
	assert.Equal(t, 2.5, n)

	for _, key := range []string{"z", "w", "v"} {
		v, ok := cmd.Get(key)
		require.True(t, ok, key)
		assert.False(t, v.IsNumber(), "%s should stay a string", key)
	}
}

func TestParse_KeepsNameCase(t *testing.T) {
	res := dsl.Parse("create_box id=b width=1 height=2 depth=3")
	require.Len(t, res.Sequence, 1)
	assert.Equal(t, "create_box", res.Sequence[0].Name)
	assert.Equal(t, dsl.KindCreateBox, res.Sequence[0].Kind())
}

func TestParse_DropsTokensWithoutEquals(t *testing.T) {
	res := dsl.Parse("CREATE_BOX id=b width 30 height=2 depth=3\nSure, here you go")

	require.Len(t, res.Sequence, 2)
	assert.False(t, res.Sequence[0].Has("width"))
	assert.Equal(t, []dsl.DroppedToken{
		{Line: 1, Token: "width"},
		{Line: 1, Token: "30"},
		{Line: 2, Token: "here"},
		{Line: 2, Token: "you"},
		{Line: 2, Token: "go"},
	}, res.Dropped)
	assert.Equal(t, "Sure,", res.Sequence[1].Name)
}

func TestParse_SplitsOnFirstEquals(t *testing.T) {
	res := dsl.Parse(`EXPORT filename="a=b.step"`)
	require.Len(t, res.Sequence, 1)
	assert.Equal(t, "a=b.step", res.Sequence[0].Text("filename"))
}

func TestParse_LastDuplicateKeyWins(t *testing.T) {
	res := dsl.Parse("FILLET id=a radius=1 radius=2")
	v, _ := res.Sequence[0].Get("radius")
	n, _ := v.Number()
	assert.Equal(t, 2.0, n)
}

func TestParse_EmptyInput(t *testing.T) {
	res := dsl.Parse("   \n\n# nothing\n")
	assert.Empty(t, res.Sequence)
	assert.Empty(t, res.Dropped)
}

func TestFormat_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		seq := randomSequence(rng)
		parsed := dsl.Parse(dsl.Format(seq)).Sequence

		require.Len(t, parsed, len(seq))
		for j := range seq {
			assert.Equal(t, seq[j].Name, parsed[j].Name)
			require.Len(t, parsed[j].Args, len(seq[j].Args))
			for k, arg := range seq[j].Args {
				got := parsed[j].Args[k]
				assert.Equal(t, arg.Key, got.Key)
				if want, ok := arg.Value.Number(); ok {
					n, isNum := got.Value.Number()
					require.True(t, isNum, "arg %s lost its number", arg.Key)
					assert.InDelta(t, want, n, 1e-9)
					continue
				}
				assert.Equal(t, arg.Value.Text(), got.Value.Text())
			}
		}
	}
}

func randomSequence(rng *rand.Rand) dsl.Sequence {
	num := func() dsl.Value {
		// Two decimals keeps the value within the grammar's number pattern.
		return dsl.NumberValue(float64(rng.Intn(20000)-10000) / 100)
	}
	id := func() dsl.Value {
		return dsl.StringValue("s" + strconv.Itoa(rng.Intn(50)))
	}

	var seq dsl.Sequence
	for n := rng.Intn(8) + 1; n > 0; n-- {
		switch rng.Intn(5) {
		case 0:
			seq = append(seq, dsl.Command{Name: "CREATE_BOX", Args: []dsl.Arg{
				{Key: "id", Value: id()}, {Key: "width", Value: num()}, {Key: "height", Value: num()}, {Key: "depth", Value: num()},
			}})
		case 1:
			seq = append(seq, dsl.Command{Name: "CREATE_CYLINDER", Args: []dsl.Arg{
				{Key: "id", Value: id()}, {Key: "radius", Value: num()}, {Key: "height", Value: num()},
			}})
		case 2:
			seq = append(seq, dsl.Command{Name: "TRANSLATE", Args: []dsl.Arg{
				{Key: "id", Value: id()}, {Key: "x", Value: num()}, {Key: "z", Value: num()},
			}})
		case 3:
			seq = append(seq, dsl.Command{Name: "SUBTRACT", Args: []dsl.Arg{
				{Key: "target", Value: id()}, {Key: "tool", Value: id()},
			}})
		default:
			seq = append(seq, dsl.Command{Name: "FILLET", Args: []dsl.Arg{
				{Key: "id", Value: id()}, {Key: "radius", Value: num()},
			}})
		}
	}
	return append(seq, dsl.Command{Name: "EXPORT", Args: []dsl.Arg{{Key: "filename", Value: dsl.StringValue("part.step")}}})
}
