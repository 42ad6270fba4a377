package dsl

import "strings"

// Format serializes a sequence back to program text, one command per line.
// Filenames are quoted. Values containing whitespace cannot round-trip because
// the parser splits on whitespace.
func Format(seq Sequence) string {
	var b strings.Builder
	for i, cmd := range seq {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(FormatCommand(cmd))
	}
	return b.String()
}

// FormatCommand renders a single command line.
func FormatCommand(cmd Command) string {
	var b strings.Builder
	b.WriteString(cmd.Name)
	for _, arg := range cmd.Args {
		b.WriteByte(' ')
		b.WriteString(arg.Key)
		b.WriteByte('=')
		if arg.Key != "filename" {
			b.WriteString(arg.Value.Text())
			continue
		}
		b.WriteByte('"')
		b.WriteString(arg.Value.Text())
		b.WriteByte('"')
	}
	return b.String()
}
