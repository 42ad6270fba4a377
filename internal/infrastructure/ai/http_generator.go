package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

type httpGenerator struct {
	name       string
	model      domain.ModelDefinition
	httpClient *http.Client
	prompts    *PromptBuilder
	adapter    providerAdapter
}

// providerAdapter isolates the wire format of one API family.
type providerAdapter struct {
	defaultEndpoint string
	buildRequest    func(domain.ModelDefinition, []domain.PromptMessage, ports.CompletionRequest) ([]byte, error)
	parseResponse   func([]byte) (string, error)
	setHeaders      func(*http.Request, domain.ModelDefinition) error
}

func newHTTPGenerator(name string, model domain.ModelDefinition, client *http.Client, prompts *PromptBuilder, adapter providerAdapter) ports.Generator {
	return &httpGenerator{
		name:       name,
		model:      model,
		httpClient: client,
		prompts:    prompts,
		adapter:    adapter,
	}
}

func (p *httpGenerator) Name() string {
	return p.name
}

func (p *httpGenerator) Model() domain.ModelDefinition {
	return p.model
}

func (p *httpGenerator) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	messages, err := p.prompts.Messages(p.model, req.Prompt)
	if err != nil {
		return "", err
	}

	requestBody, err := p.adapter.buildRequest(p.model, messages, req)
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	endpoint := valueOrDefault(p.model.Endpoint, p.adapter.defaultEndpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("content-type", "application/json")
	if err := p.adapter.setHeaders(httpReq, p.model); err != nil {
		return "", err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s: %s: %s", p.name, resp.Status, snippet(body))
	}

	content, err := p.adapter.parseResponse(body)
	if err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return ExtractProgram(content), nil
}

func anthropicAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "https://api.anthropic.com/v1/messages",
		buildRequest:    buildAnthropicRequest,
		parseResponse:   parseAnthropicResponse,
		setHeaders:      setAnthropicHeaders,
	}
}

func openaiAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "https://api.openai.com/v1/chat/completions",
		buildRequest:    buildChatCompletionRequest,
		parseResponse:   parseChatCompletionResponse,
		setHeaders:      setOpenAIHeaders,
	}
}

func ollamaAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "http://localhost:11434/v1/chat/completions",
		buildRequest:    buildChatCompletionRequest,
		parseResponse:   parseChatCompletionResponse,
		setHeaders:      noHeaders,
	}
}

func llamaCppAdapter() providerAdapter {
	return providerAdapter{
		defaultEndpoint: "http://127.0.0.1:8080/completion",
		buildRequest:    buildLlamaCppRequest,
		parseResponse:   parseLlamaCppResponse,
		setHeaders:      noHeaders,
	}
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildAnthropicRequest(model domain.ModelDefinition, messages []domain.PromptMessage, req ports.CompletionRequest) ([]byte, error) {
	var system []string
	payload := anthropicRequest{
		Model:     valueOrDefault(model.ModelID, "claude-sonnet-4-5"),
		MaxTokens: valueOrDefaultInt(req.MaxTokens, domain.DefaultMaxTokens),
	}
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			system = append(system, msg.Content)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    strings.ToLower(msg.Role),
			Content: []anthropicContent{{Type: "text", Text: msg.Content}},
		})
	}
	payload.System = strings.TrimSpace(strings.Join(system, "\n"))
	// The messages API rejects whitespace-only stop sequences.
	payload.StopSequences = visibleStops(req.Stop)
	return json.Marshal(payload)
}

// visibleStops drops whitespace-only stop sequences. A blank line ends a
// raw-transcript completion, but chat replies often open with a preamble
// and a blank line before the program.
func visibleStops(stops []string) []string {
	var out []string
	for _, stop := range stops {
		if strings.TrimSpace(stop) != "" {
			out = append(out, stop)
		}
	}
	return out
}

func parseAnthropicResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Content) == 0 {
		return "", nil
	}
	return response.Content[0].Text, nil
}

func setAnthropicHeaders(req *http.Request, model domain.ModelDefinition) error {
	apiKey := resolveEnv(model.AuthEnvVar, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s or ANTHROPIC_API_KEY", valueOrDefault(model.AuthEnvVar, "auth_env_var"))
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stop      []string      `json:"stop,omitempty"`
}

func buildChatCompletionRequest(model domain.ModelDefinition, messages []domain.PromptMessage, req ports.CompletionRequest) ([]byte, error) {
	payload := chatCompletionRequest{
		Model:     model.ModelID,
		MaxTokens: req.MaxTokens,
		Stop:      visibleStops(req.Stop),
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, chatMessage{
			Role:    strings.ToLower(msg.Role),
			Content: msg.Content,
		})
	}
	// Chat completion APIs accept at most four stop sequences.
	if len(payload.Stop) > 4 {
		payload.Stop = payload.Stop[:4]
	}
	return json.Marshal(payload)
}

func parseChatCompletionResponse(body []byte) (string, error) {
	var response struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func setOpenAIHeaders(req *http.Request, model domain.ModelDefinition) error {
	apiKey := resolveEnv(model.AuthEnvVar, "OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s or OPENAI_API_KEY", valueOrDefault(model.AuthEnvVar, "auth_env_var"))
	}
	req.Header.Set("authorization", "Bearer "+apiKey)
	if org := resolveEnv(model.OrgEnvVar, "OPENAI_ORG_ID"); org != "" {
		req.Header.Set("OpenAI-Organization", org)
	}
	return nil
}

// llama.cpp's server completes a raw transcript, matching how local GGUF
// models were prompted with a single text block.
type llamaCppRequest struct {
	Prompt   string   `json:"prompt"`
	NPredict int      `json:"n_predict"`
	Stop     []string `json:"stop,omitempty"`
}

func buildLlamaCppRequest(_ domain.ModelDefinition, messages []domain.PromptMessage, req ports.CompletionRequest) ([]byte, error) {
	return json.Marshal(llamaCppRequest{
		Prompt:   Transcript(messages),
		NPredict: valueOrDefaultInt(req.MaxTokens, domain.DefaultMaxTokens),
		Stop:     req.Stop,
	})
}

func parseLlamaCppResponse(body []byte) (string, error) {
	var response struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Content), nil
}

func noHeaders(*http.Request, domain.ModelDefinition) error {
	return nil
}

func resolveEnv(primary, fallback string) string {
	if primary != "" {
		if value := os.Getenv(primary); value != "" {
			return value
		}
	}
	if fallback == "" {
		return ""
	}
	return os.Getenv(fallback)
}

func valueOrDefault(value string, def string) string {
	if value == "" {
		return def
	}
	return value
}

func valueOrDefaultInt(value int, def int) int {
	if value <= 0 {
		return def
	}
	return value
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}
