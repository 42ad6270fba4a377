// Package ai adapts text-generation services to ports.Generator. HTTP
// adapters cover Anthropic, OpenAI-compatible chat APIs, Ollama and the
// llama.cpp server; an offline heuristic generator needs no network at all.
package ai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

type Factory struct {
	httpClient *http.Client
	prompts    *PromptBuilder
}

// NewFactory builds generators sharing one HTTP client and prompt template.
func NewFactory(client *http.Client, prompts *PromptBuilder) *Factory {
	if client == nil {
		client = &http.Client{Timeout: domain.DefaultHTTPClientTimeout}
	}
	if prompts == nil {
		prompts = MustPromptBuilder()
	}
	return &Factory{httpClient: client, prompts: prompts}
}

func (f *Factory) ForModel(model domain.ModelDefinition) (ports.Generator, error) {
	kind := model.Kind
	if kind == "" {
		kind = InferProviderKind(model.Endpoint, model.Name)
	}

	switch kind {
	case domain.ProviderAnthropic:
		return newHTTPGenerator("anthropic", model, f.httpClient, f.prompts, anthropicAdapter()), nil
	case domain.ProviderOpenAI:
		return newHTTPGenerator("openai", model, f.httpClient, f.prompts, openaiAdapter()), nil
	case domain.ProviderOllama:
		return newHTTPGenerator("ollama", model, f.httpClient, f.prompts, ollamaAdapter()), nil
	case domain.ProviderLlamaCpp:
		return newHTTPGenerator("llamacpp", model, f.httpClient, f.prompts, llamaCppAdapter()), nil
	case domain.ProviderOffline:
		return NewHeuristicGenerator(model), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", kind)
	}
}

// InferProviderKind guesses the protocol for models declared without a kind.
func InferProviderKind(endpoint string, name string) domain.ProviderKind {
	nameLower := strings.ToLower(name)

	switch {
	case endpoint == "" || endpoint == domain.OfflineEndpoint:
		return domain.ProviderOffline
	case strings.Contains(endpoint, "anthropic.com"):
		return domain.ProviderAnthropic
	case strings.Contains(endpoint, "openai.com"):
		return domain.ProviderOpenAI
	case strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/completion"):
		return domain.ProviderLlamaCpp
	case strings.Contains(nameLower, "ollama"), strings.Contains(endpoint, "11434"):
		return domain.ProviderOllama
	case strings.Contains(nameLower, "llama"):
		return domain.ProviderLlamaCpp
	default:
		return domain.ProviderOpenAI
	}
}

var _ ports.GeneratorFactory = (*Factory)(nil)
