package ai

import (
	"regexp"
	"strings"

	"github.com/doeshing/cadsmith/internal/dsl"
)

var commandWord = regexp.MustCompile(`^[A-Za-z]+(_[A-Za-z]+)+$`)

// ExtractProgram strips chatter around a generated program. A line survives
// when it starts with a grammar command, or with an UPPER_SNAKE word followed
// by key=value pairs; the latter keeps misspelled commands around so the
// validator can report them back to the model.
func ExtractProgram(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		switch {
		case dsl.KindOf(name) != dsl.KindUnknown:
			kept = append(kept, line)
		case commandWord.MatchString(name) && len(fields) > 1 && strings.Contains(fields[1], "="):
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
