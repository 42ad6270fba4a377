package assets

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration.
//
//go:embed defaults/config.yaml
var DefaultConfigYAML []byte

// DefaultPromptTemplate is the system prompt sent ahead of every request. It
// is a text/template rendered with the command grammar.
//
//go:embed defaults/prompt.tmpl
var DefaultPromptTemplate string
