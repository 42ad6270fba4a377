package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/doeshing/cadsmith/assets"
	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
)

// templateData is what prompt templates can reference.
type templateData struct {
	Prompt   string
	Commands []string
}

// PromptBuilder renders the conversation sent to a model: a system message
// describing the grammar and a user message carrying the request.
type PromptBuilder struct {
	system *template.Template
}

// NewPromptBuilder parses the system template. An empty raw template falls
// back to the embedded default.
func NewPromptBuilder(raw string) (*PromptBuilder, error) {
	if strings.TrimSpace(raw) == "" {
		raw = assets.DefaultPromptTemplate
	}
	tmpl, err := template.New("system").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptBuilder{system: tmpl}, nil
}

// MustPromptBuilder is NewPromptBuilder for the embedded template.
func MustPromptBuilder() *PromptBuilder {
	pb, err := NewPromptBuilder("")
	if err != nil {
		panic(err)
	}
	return pb
}

// Messages renders the chat messages for a request. Model-level prompt
// overrides are templates too and see the same data.
func (b *PromptBuilder) Messages(model domain.ModelDefinition, userPrompt string) ([]domain.PromptMessage, error) {
	data := templateData{
		Prompt:   strings.TrimSpace(userPrompt),
		Commands: grammarLines(),
	}

	if len(model.Prompt) == 0 {
		system, err := execute(b.system, data)
		if err != nil {
			return nil, err
		}
		return []domain.PromptMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: data.Prompt},
		}, nil
	}

	rendered := make([]domain.PromptMessage, 0, len(model.Prompt)+1)
	for _, msg := range model.Prompt {
		tmpl, err := template.New("prompt").Parse(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", msg.Role, err)
		}
		content, err := execute(tmpl, data)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, domain.PromptMessage{Role: msg.Role, Content: content})
	}
	if !hasUserMessage(rendered) {
		rendered = append(rendered, domain.PromptMessage{Role: "user", Content: data.Prompt})
	}
	return rendered, nil
}

// Transcript flattens messages into the single-string form completion
// endpoints expect, ending on an open assistant turn.
func Transcript(messages []domain.PromptMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			b.WriteString(msg.Content)
			b.WriteString("\n")
		case "assistant":
			b.WriteString("\nAssistant:\n")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		default:
			b.WriteString("\nUser: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("Assistant:\n")
	return b.String()
}

func grammarLines() []string {
	kinds := dsl.Kinds()
	lines := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		if spec, ok := dsl.SpecFor(kind); ok {
			lines = append(lines, spec.Usage())
		}
	}
	return lines
}

func execute(tmpl *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func hasUserMessage(messages []domain.PromptMessage) bool {
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "user") {
			return true
		}
	}
	return false
}
