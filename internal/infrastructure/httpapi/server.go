// Package httpapi serves the generation pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/dsl"
	"github.com/doeshing/cadsmith/internal/ports"
	"github.com/doeshing/cadsmith/internal/version"
)

const maxBodyBytes = 1 << 20

// PartService is the slice of generate.Service the API needs.
type PartService interface {
	Run(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error)
	Check(ctx context.Context, text string) (dsl.ParseResult, dsl.Result, error)
}

// Config wires the handler.
type Config struct {
	Parts   PartService
	History ports.HistoryRepository // optional; artifact lookups fall back to this process's runs
	Metrics http.Handler            // optional; mounted at /metrics
	Logger  ports.Logger
	// OutputDir is the root for artifacts. Every request writes into its own
	// sub-directory.
	OutputDir string
}

// Server implements the cadsmith HTTP API.
type Server struct {
	cfg       Config
	artifacts sync.Map // run id -> artifact path
}

// NewHandler creates the chi router.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = ports.NopLogger{}
	}
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/parts", s.createPart)
		r.Post("/validate", s.validate)
		r.Get("/parts/{runID}/artifact", s.artifact)
	})
	return r
}

type createPartRequest struct {
	Prompt      string `json:"prompt"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Model       string `json:"model,omitempty"`
	NoCache     bool   `json:"no_cache,omitempty"`
}

type attemptView struct {
	Number  int      `json:"number"`
	Valid   bool     `json:"valid"`
	Message string   `json:"message"`
	DSL     string   `json:"dsl"`
	Dropped []string `json:"dropped,omitempty"`
}

type partResponse struct {
	RunID      string         `json:"run_id"`
	Outcome    domain.Outcome `json:"outcome"`
	Path       string         `json:"path,omitempty"`
	Model      string         `json:"model"`
	FromCache  bool           `json:"from_cache"`
	Attempts   []attemptView  `json:"attempts"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

func (s *Server) createPart(w http.ResponseWriter, r *http.Request) {
	var body createPartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if body.MaxAttempts < 0 {
		writeError(w, http.StatusBadRequest, "max_attempts must be >= 0")
		return
	}

	// The service clamps max_attempts to generation.max_attempts_limit.
	runID := uuid.NewString()
	res, err := s.cfg.Parts.Run(r.Context(), domain.GenerationRequest{
		RunID:         runID,
		Prompt:        body.Prompt,
		MaxAttempts:   body.MaxAttempts,
		ModelOverride: body.Model,
		NoCache:       body.NoCache,
		OutputDir:     filepath.Join(s.cfg.OutputDir, runID),
	})
	if res.RunID != "" && res.ArtifactPath != "" {
		s.artifacts.Store(res.RunID, res.ArtifactPath)
	}

	resp := toResponse(res)
	status := http.StatusOK
	switch {
	case err != nil && res.RunID == "":
		// Nothing ran.
		if errors.Is(err, domain.ErrModelNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.cfg.Logger.Error("generation could not start", err, nil)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		resp.Error = err.Error()
		status = http.StatusBadGateway
		s.cfg.Logger.Error("generation failed", err, map[string]interface{}{"run_id": res.RunID})
	case res.Outcome == domain.OutcomeSuccess:
		status = http.StatusCreated
		w.Header().Set("Location", "/v1/parts/"+res.RunID+"/artifact")
	case res.Outcome == domain.OutcomeExhausted:
		status = http.StatusUnprocessableEntity
		if last, ok := res.LastAttempt(); ok {
			resp.Error = last.Message
		}
	}
	writeJSON(w, status, resp)
}

type validateResponse struct {
	Valid    bool     `json:"valid"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
	Line     int      `json:"line,omitempty"`
	Commands int      `json:"commands"`
	Dropped  int      `json:"dropped"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	parsed, verdict, err := s.cfg.Parts.Check(r.Context(), string(data))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:    verdict.Valid,
		Message:  verdict.Message,
		Rule:     string(verdict.Rule),
		Line:     verdict.Line,
		Commands: len(parsed.Sequence),
		Dropped:  len(parsed.Dropped),
		Warnings: verdict.Warnings,
	})
}

func (s *Server) artifact(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	path, err := s.lookup(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if path == "" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no artifact for run %s", runID))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusGone, "artifact was removed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) lookup(ctx context.Context, runID string) (string, error) {
	if v, ok := s.artifacts.Load(runID); ok {
		return v.(string), nil
	}
	if s.cfg.History == nil {
		return "", nil
	}
	rec, ok, err := s.cfg.History.Find(ctx, runID)
	if err != nil || !ok {
		return "", err
	}
	return rec.ArtifactPath, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.cfg.Logger.Debug("http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"elapsed_ms": time.Since(start).Milliseconds(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}

func toResponse(res domain.GenerationResult) partResponse {
	resp := partResponse{
		RunID:      res.RunID,
		Outcome:    res.Outcome,
		Path:       res.ArtifactPath,
		Model:      res.Model,
		FromCache:  res.FromCache,
		Attempts:   make([]attemptView, 0, len(res.Attempts)),
		DurationMS: res.Duration.Milliseconds(),
	}
	for _, a := range res.Attempts {
		resp.Attempts = append(resp.Attempts, attemptView{
			Number:  a.Number,
			Valid:   a.Valid,
			Message: a.Message,
			DSL:     a.DSL,
			Dropped: a.Dropped,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the handler on addr until ctx is cancelled, then
// drains in-flight requests.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger ports.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{"addr": addr})
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), domain.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Join(err, srv.Close())
		}
		logger.Info("server stopped", nil)
		return nil
	}
}
