// Package domain defines the core entities and value objects for cadsmith.
//
// This file holds the text-generation model definitions read from the config
// file. Nothing here talks to a network.
package domain

// ProviderKind identifies the wire protocol a model endpoint speaks.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderOllama    ProviderKind = "ollama"
	ProviderLlamaCpp  ProviderKind = "llamacpp"
	ProviderOffline   ProviderKind = "offline"
)

// OfflineEndpoint selects the built-in heuristic generator.
const OfflineEndpoint = "offline"

// ModelDefinition describes a text-generation endpoint declared in the config
// file.
type ModelDefinition struct {
	Name       string          `yaml:"name"`
	Kind       ProviderKind    `yaml:"kind,omitempty"`
	Endpoint   string          `yaml:"endpoint"`
	AuthEnvVar string          `yaml:"auth_env_var"`
	OrgEnvVar  string          `yaml:"org_env_var"`
	ModelID    string          `yaml:"model_id"`
	MaxTokens  int             `yaml:"max_tokens"`
	Prompt     []PromptMessage `yaml:"prompt"`
}

// PromptMessage follows the role/content pair required by most chat APIs.
type PromptMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}
