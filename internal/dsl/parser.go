package dsl

import (
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// DroppedToken records a token the parser skipped because it had no '='.
type DroppedToken struct {
	Line  int
	Token string
}

// ParseResult is the parser output: the command sequence plus the tokens
// that were tolerated and discarded along the way.
type ParseResult struct {
	Sequence Sequence
	Dropped  []DroppedToken
}

// Parse converts raw program text into a Sequence. It never fails: blank
// lines, comments and code fences are skipped, and tokens that are not
// key=value pairs are dropped and reported in ParseResult.Dropped. Integrity
// is the Validator's job.
func Parse(text string) ParseResult {
	var result ParseResult
	for idx, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}

		fields := strings.Fields(line)
		cmd := Command{Name: fields[0], Line: idx + 1}
		for _, token := range fields[1:] {
			key, raw, ok := strings.Cut(token, "=")
			if !ok {
				result.Dropped = append(result.Dropped, DroppedToken{Line: idx + 1, Token: token})
				continue
			}
			cmd.Args = append(cmd.Args, Arg{Key: key, Value: parseValue(raw)})
		}
		result.Sequence = append(result.Sequence, cmd)
	}
	return result
}

func parseValue(raw string) Value {
	raw = strings.Trim(raw, `"`)
	if numberPattern.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return Value{raw: raw, num: f, isNum: true}
		}
	}
	return Value{raw: raw}
}
