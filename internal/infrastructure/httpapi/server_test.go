package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cadsmith/internal/application/executor"
	"github.com/doeshing/cadsmith/internal/application/generate"
	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/infrastructure/ai"
	"github.com/doeshing/cadsmith/internal/infrastructure/geometry/csg"
	"github.com/doeshing/cadsmith/internal/infrastructure/history"
	"github.com/doeshing/cadsmith/internal/infrastructure/httpapi"
	"github.com/doeshing/cadsmith/internal/infrastructure/metrics"
	"github.com/doeshing/cadsmith/internal/ports"
)

type staticConfig struct{ cfg domain.Config }

func (s staticConfig) Load(context.Context) (domain.Config, error) { return s.cfg, nil }

type fixture struct {
	srv     *httptest.Server
	history *history.FileStore
	out     string
}

type failingConfig struct{}

func (failingConfig) Load(context.Context) (domain.Config, error) {
	return domain.Config{}, errors.New("config.yaml: permission denied")
}

// stuckGenerator never produces a valid program and counts its calls.
type stuckGenerator struct{ calls atomic.Int64 }

func (g *stuckGenerator) Name() string                  { return "stuck" }
func (g *stuckGenerator) Model() domain.ModelDefinition { return domain.ModelDefinition{Name: "offline"} }
func (g *stuckGenerator) Complete(context.Context, ports.CompletionRequest) (string, error) {
	g.calls.Add(1)
	return "not a program", nil
}

type fixedFactory struct{ gen ports.Generator }

func (f fixedFactory) ForModel(domain.ModelDefinition) (ports.Generator, error) { return f.gen, nil }

func newFixture(t *testing.T) fixture {
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith swaps in provider and factory when they are non-nil.
func newFixtureWith(t *testing.T, provider ports.ConfigProvider, factory ports.GeneratorFactory) fixture {
	t.Helper()
	cfg := domain.Config{
		Preferences: domain.Preferences{DefaultModel: "offline"},
		Models:      []domain.ModelDefinition{{Name: "offline", Kind: domain.ProviderOffline}},
	}
	if provider == nil {
		provider = staticConfig{cfg: cfg}
	}
	if factory == nil {
		factory = ai.NewFactory(nil, nil)
	}
	m := metrics.New()
	hist := history.NewFileStore(filepath.Join(t.TempDir(), "history.jsonl"))
	svc := &generate.Service{
		ConfigProvider:   provider,
		GeneratorFactory: factory,
		Executor:         executor.New(csg.New(), nil, m),
		History:          hist,
		Metrics:          m,
		Logger:           ports.NopLogger{},
	}
	out := t.TempDir()
	srv := httptest.NewServer(httpapi.NewHandler(httpapi.Config{
		Parts:     svc,
		History:   hist,
		Metrics:   m.Handler(),
		OutputDir: out,
	}))
	t.Cleanup(srv.Close)
	return fixture{srv: srv, history: hist, out: out}
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestCreatePart_Success(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/v1/parts", "application/json",
		strings.NewReader(`{"prompt": "Make a 30x20x10 box."}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	location := resp.Header.Get("Location")
	body := decode(t, resp)

	assert.Equal(t, "success", body["outcome"])
	runID := body["run_id"].(string)
	assert.Equal(t, "/v1/parts/"+runID+"/artifact", location)
	path := body["path"].(string)
	assert.Equal(t, filepath.Join(f.out, runID, "box1.step"), path)

	art, err := http.Get(f.srv.URL + location)
	require.NoError(t, err)
	defer art.Body.Close()
	assert.Equal(t, http.StatusOK, art.StatusCode)
	assert.Contains(t, art.Header.Get("Content-Disposition"), "box1.step")
	data, err := io.ReadAll(art.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "format: "+csg.FormatTag)
}

func TestCreatePart_ExhaustedIs422(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/v1/parts", "application/json",
		strings.NewReader(`{"prompt": "a gear with 12 teeth", "max_attempts": 2}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "exhausted", body["outcome"])
	assert.Len(t, body["attempts"], 2)
	assert.Equal(t, "No solid created", body["error"])
}

func TestCreatePart_BadRequests(t *testing.T) {
	f := newFixture(t)

	for _, payload := range []string{
		`{"prompt": "  "}`,
		`not json`,
		`{"prompt": "x", "colour": "red"}`,
		`{"prompt": "x", "max_attempts": -1}`,
	} {
		resp, err := http.Post(f.srv.URL+"/v1/parts", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
	}

	resp, err := http.Post(f.srv.URL+"/v1/parts", "application/json",
		strings.NewReader(`{"prompt": "a box", "model": "nope"}`))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "model nope not found")
}

func TestCreatePart_ConfigFailureIs500(t *testing.T) {
	f := newFixtureWith(t, failingConfig{}, nil)

	resp, err := http.Post(f.srv.URL+"/v1/parts", "application/json",
		strings.NewReader(`{"prompt": "a box"}`))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["error"], "permission denied")
}

func TestCreatePart_AttemptsAreCapped(t *testing.T) {
	gen := &stuckGenerator{}
	f := newFixtureWith(t, nil, fixedFactory{gen: gen})

	resp, err := http.Post(f.srv.URL+"/v1/parts", "application/json",
		strings.NewReader(`{"prompt": "x", "max_attempts": 5000, "no_cache": true}`))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Len(t, body["attempts"], domain.DefaultMaxAttemptsLimit)
	assert.Equal(t, int64(domain.DefaultMaxAttemptsLimit), gen.calls.Load())
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/v1/validate", "text/plain", strings.NewReader(
		"CREATE_BOX id=plate width=40 height=20 depth=5 oops\nSUBTRACT target=plate tool=hole1\nEXPORT filename=\"p.step\""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)

	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Unknown tool 'hole1'", body["message"])
	assert.Equal(t, "unknown_reference", body["rule"])
	assert.EqualValues(t, 3, body["commands"])
	assert.EqualValues(t, 1, body["dropped"])
}

func TestArtifact_NotFound(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/v1/parts/unknown-run/artifact")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArtifact_FromHistory(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.out, "old.step")
	require.NoError(t, writeFile(path, "solid"))
	require.NoError(t, f.history.Save(context.Background(), domain.HistoryRecord{RunID: "earlier", ArtifactPath: path}))

	resp, err := http.Get(f.srv.URL + "/v1/parts/earlier/artifact")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	resp, err = http.Post(f.srv.URL+"/v1/parts", "application/json", strings.NewReader(`{"prompt": "Make a 30x20x10 box."}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `cadsmith_runs_total{outcome="success"} 1`)
	assert.Contains(t, string(data), `cadsmith_executor_commands_total{command="CREATE_BOX"} 1`)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- httpapi.ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler(), ports.NopLogger{})
	}()
	cancel()
	assert.NoError(t, <-done)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
