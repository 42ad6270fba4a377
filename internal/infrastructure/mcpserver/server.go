// Package mcpserver exposes the generation pipeline as Model Context Protocol
// tools so agents can request parts directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
	"github.com/doeshing/cadsmith/internal/ports"
	"github.com/doeshing/cadsmith/internal/version"
)

const grammarURI = "cadsmith://grammar"

// Pipeline is implemented by generate.Service.
type Pipeline interface {
	Run(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
	Check(ctx context.Context, text string) (dsl.ParseResult, dsl.Result, error)
	Execute(ctx context.Context, text, outputDir string) (domain.GenerationResult, error)
}

// Server wraps a Pipeline in an MCP server.
type Server struct {
	pipeline  Pipeline
	logger    ports.Logger
	outputDir string
	mcpServer *server.MCPServer
}

// NewServer registers the tools. An empty outputDir leaves the choice to
// the configuration.
func NewServer(pipeline Pipeline, logger ports.Logger, outputDir string) *Server {
	if logger == nil {
		logger = ports.NopLogger{}
	}
	s := &Server{
		pipeline:  pipeline,
		logger:    logger,
		outputDir: outputDir,
		mcpServer: server.NewMCPServer("cadsmith", strings.TrimSpace(version.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio blocks serving JSON-RPC on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("generate_part",
		mcp.WithDescription("Generate a CAD part from a natural-language description and export it."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Description of the part")),
		mcp.WithNumber("max_attempts", mcp.Description("Generation attempts before giving up")),
		mcp.WithString("model", mcp.Description("Configured model name to use instead of the default")),
	), s.handleGenerate)

	s.mcpServer.AddTool(mcp.NewTool("validate_dsl",
		mcp.WithDescription("Parse and validate a CAD DSL program without running it."),
		mcp.WithString("dsl", mcp.Required(), mcp.Description("Program text, one command per line")),
	), s.handleValidate)

	s.mcpServer.AddTool(mcp.NewTool("execute_dsl",
		mcp.WithDescription("Validate a CAD DSL program and run it through the geometry kernel."),
		mcp.WithString("dsl", mcp.Required(), mcp.Description("Program text, one command per line")),
	), s.handleExecute)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(grammarURI, "CAD DSL grammar",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: grammarURI, MIMEType: "text/plain", Text: grammarText()},
		}, nil
	})
}

func grammarText() string {
	var lines []string
	for _, kind := range dsl.Kinds() {
		if spec, ok := dsl.SpecFor(kind); ok {
			lines = append(lines, spec.Usage())
		}
	}
	return strings.Join(lines, "\n")
}

type partResult struct {
	RunID    string         `json:"run_id"`
	Outcome  domain.Outcome `json:"outcome"`
	Path     string         `json:"path,omitempty"`
	Attempts int            `json:"attempts"`
	DSL      string         `json:"dsl,omitempty"`
	Message  string         `json:"message,omitempty"`
}

type verdictResult struct {
	Valid    bool     `json:"valid"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
	Line     int      `json:"line,omitempty"`
	Dropped  []string `json:"dropped,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil || strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	attempts := request.GetInt("max_attempts", 0)
	if attempts < 0 {
		return mcp.NewToolResultError("max_attempts must be >= 0"), nil
	}
	// Values above generation.max_attempts_limit are clamped by the pipeline.
	res, err := s.pipeline.Run(ctx, domain.GenerationRequest{
		Prompt:        prompt,
		MaxAttempts:   attempts,
		ModelOverride: request.GetString("model", ""),
		OutputDir:     s.outputDir,
	})
	if err != nil {
		s.logger.Error("mcp generate failed", err, map[string]interface{}{"run_id": res.RunID})
		return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
	}
	return partToolResult(res)
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("dsl")
	if err != nil {
		return mcp.NewToolResultError("dsl is required"), nil
	}
	parsed, verdict, err := s.pipeline.Check(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := verdictResult{
		Valid:    verdict.Valid,
		Message:  verdict.Message,
		Rule:     string(verdict.Rule),
		Line:     verdict.Line,
		Warnings: verdict.Warnings,
	}
	for _, d := range parsed.Dropped {
		out.Dropped = append(out.Dropped, d.Token)
	}
	return jsonResult(out)
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("dsl")
	if err != nil {
		return mcp.NewToolResultError("dsl is required"), nil
	}
	res, err := s.pipeline.Execute(ctx, text, s.outputDir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return partToolResult(res)
}

// partToolResult marks runs without an artifact as tool errors so agents
// do not treat them as usable output.
func partToolResult(res domain.GenerationResult) (*mcp.CallToolResult, error) {
	out := partResult{
		RunID:    res.RunID,
		Outcome:  res.Outcome,
		Path:     res.ArtifactPath,
		Attempts: len(res.Attempts),
	}
	if last, ok := res.LastAttempt(); ok {
		out.DSL = last.DSL
		out.Message = last.Message
	}
	result, err := jsonResult(out)
	if err != nil {
		return nil, err
	}
	result.IsError = res.Outcome != domain.OutcomeSuccess
	return result, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
