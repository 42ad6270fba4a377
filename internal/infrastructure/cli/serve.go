package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doeshing/cadsmith/internal/infrastructure/httpapi"
	"github.com/doeshing/cadsmith/internal/infrastructure/mcpserver"
)

func (a *App) newServeCommand() *cobra.Command {
	var addr, outputDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API:

  POST /v1/parts                    generate a part from {"prompt": "..."}
  POST /v1/validate                 validate a DSL program sent as the body
  GET  /v1/parts/{run}/artifact     download an exported artifact
  GET  /healthz, /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.container
			if addr == "" {
				addr = c.Config.ServerAddr()
			}
			if outputDir == "" {
				outputDir = c.Config.OutputDir()
			}
			var metricsHandler http.Handler
			if c.Config.Server.Metrics {
				metricsHandler = c.Metrics.Handler()
			}
			handler := httpapi.NewHandler(httpapi.Config{
				Parts:     c.GenerateService,
				History:   c.HistoryStore,
				Metrics:   metricsHandler,
				Logger:    c.Logger,
				OutputDir: outputDir,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := httpapi.ListenAndServe(ctx, addr, handler, c.Logger)
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Root directory for artifacts (default from config)")
	return cmd
}

func (a *App) newMCPCommand() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the Model Context Protocol server on stdio",
		Long: `Exposes generate_part, validate_dsl and execute_dsl as MCP tools so
agents can request parts. Logs go to stderr; stdout carries JSON-RPC.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.container
			c.Logger.Info("starting MCP server on stdio", nil)
			return serveMCP(cmd.Context(), mcpserver.NewServer(c.GenerateService, c.Logger, outputDir))
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for artifacts (default from config)")
	return cmd
}

// serveMCP returns when stdin closes or ctx is cancelled.
func serveMCP(ctx context.Context, srv *mcpserver.Server) error {
	done := make(chan error, 1)
	go func() { done <- srv.ServeStdio() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
