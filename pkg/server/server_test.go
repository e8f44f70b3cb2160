package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/osaurus-ai/osaurus/pkg/config"
	"github.com/osaurus-ai/osaurus/pkg/inference/scripted"
	"github.com/osaurus-ai/osaurus/pkg/metrics"
	"github.com/osaurus-ai/osaurus/pkg/models"
	"github.com/osaurus-ai/osaurus/pkg/server/handlers"
	"github.com/osaurus-ai/osaurus/pkg/services"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

func testSettings() *config.Settings {
	return &config.Settings{
		Port:               0,
		GenTopP:            1.0,
		GenKVGroupSize:     64,
		GenPrefillStepSize: 512,
		StreamBatchChars:   config.DefaultStreamBatchChars,
		StreamBatchMS:      config.DefaultStreamBatchMS,
		ToolProbeTokens:    config.DefaultToolProbeTokens,
		ToolProbeBytes:     config.DefaultToolProbeBytes,
		ShutdownGraceMS:    2000,
	}
}

func testDeps(t *testing.T, backend types.Backend, cfg *config.Settings) handlers.Deps {
	t.Helper()
	reg := models.NewRegistry(t.TempDir(), nil)
	require.NoError(t, reg.Load())
	if cfg == nil {
		cfg = testSettings()
	}
	return handlers.Deps{
		Router:   services.NewRouter(reg, nil, backend),
		Settings: cfg,
		Logger:   zaptest.NewLogger(t),
	}
}

func startServer(t *testing.T, backend types.Backend, cfg *config.Settings) *Server {
	t.Helper()
	srv := New(testDeps(t, backend, cfg))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func TestRouterAliasEquivalence(t *testing.T) {
	router := NewRouter(testDeps(t, scripted.New("hi"), nil))
	body := `{"model":"m","messages":[{"role":"user","content":"?"}]}`

	completion := func(path string) types.ChatCompletion {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		var resp types.ChatCompletion
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	canonical := completion("/chat/completions")
	for _, path := range []string{"/v1/chat/completions", "/api/chat/completions", "/v1/api/chat/completions"} {
		aliased := completion(path)
		aliased.ID, canonical.ID = "", ""
		aliased.Created, canonical.Created = 0, 0
		assert.Equal(t, canonical, aliased, "path %s", path)
	}
}

func TestRouterAliasedOllamaAndListing(t *testing.T) {
	router := NewRouter(testDeps(t, scripted.New("a"), nil))

	for _, path := range []string{"/models", "/v1/models", "/api/models"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"?"}]}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), `{"done":true}`+"\n"))
}

func TestRouterHeadReturnsNoContent(t *testing.T) {
	router := NewRouter(testDeps(t, scripted.New(), nil))

	for _, path := range []string{"/", "/health", "/chat/completions", "/no/such/path"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, "path %s", path)
		assert.Empty(t, rec.Body.String())
	}
}

func TestRouterUnknownPath(t *testing.T) {
	router := NewRouter(testDeps(t, scripted.New(), nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no/such/path", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestRouterCORS(t *testing.T) {
	cfg := testSettings()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	router := NewRouter(testDeps(t, scripted.New("hi"), cfg))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/chat/completions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterMetricsEndpoint(t *testing.T) {
	deps := testDeps(t, scripted.New("hi"), nil)
	deps.Metrics = metrics.New()
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "osaurus_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestRouterRateLimit(t *testing.T) {
	cfg := testSettings()
	cfg.RateLimit = config.RateLimitSettings{Enabled: true, RPS: 0.001, Burst: 1}
	router := NewRouter(testDeps(t, scripted.New("hi"), cfg))
	body := `{"model":"m","messages":[{"role":"user","content":"?"}]}`

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(body)))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_error", resp.Error.Type)

	// Non-generation routes stay open.
	listing := httptest.NewRecorder()
	router.ServeHTTP(listing, httptest.NewRequest(http.MethodGet, "/models", nil))
	assert.Equal(t, http.StatusOK, listing.Code)
}

func TestServerStartStopRestart(t *testing.T) {
	srv := startServer(t, scripted.New("hi"), nil)
	require.Equal(t, StateRunning, srv.State())
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Start is idempotent while running.
	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, addr, srv.Addr())

	require.NoError(t, srv.Stop(context.Background()))
	assert.Equal(t, StateStopped, srv.State())
	assert.Empty(t, srv.Addr())
	_, err = http.Get("http://" + addr + "/health")
	require.Error(t, err)

	// Stop is idempotent while stopped.
	require.NoError(t, srv.Stop(context.Background()))

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, StateRunning, srv.State())
	resp, err = http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerBindFailure(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	port := blocker.Addr().(*net.TCPAddr).Port

	cfg := testSettings()
	cfg.Port = port
	srv := New(testDeps(t, scripted.New(), cfg))

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, srv.State())
	assert.Error(t, srv.Err())

	// The port frees up and a retry succeeds.
	require.NoError(t, blocker.Close())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	assert.Equal(t, StateRunning, srv.State())
	assert.NoError(t, srv.Err())
}

func TestServerServeCommand(t *testing.T) {
	srv := New(testDeps(t, scripted.New("hi"), nil))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	require.NoError(t, srv.Serve(context.Background(), nil, nil))
	require.Equal(t, StateRunning, srv.State())
	addr := srv.Addr()

	// Unchanged parameters leave the running server alone.
	require.NoError(t, srv.Serve(context.Background(), nil, nil))
	assert.Equal(t, addr, srv.Addr())

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	newPort := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	require.NoError(t, srv.Serve(context.Background(), &newPort, nil))
	require.Equal(t, StateRunning, srv.State())
	assert.True(t, strings.HasSuffix(srv.Addr(), ":"+strconv.Itoa(newPort)), "addr %s", srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStopEndsStreamCleanly(t *testing.T) {
	chunks := make([]string, 100)
	for i := range chunks {
		chunks[i] = "token "
	}
	backend := scripted.New(chunks...).WithDelay(20 * time.Millisecond)
	srv := startServer(t, backend, nil)

	body := `{"model":"m","messages":[{"role":"user","content":"?"}],"stream":true}`
	resp, err := http.Post("http://"+srv.Addr()+"/chat/completions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		blank, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "\n", blank)
		return strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")
	}

	role := readFrame()
	require.Contains(t, role, `"role":"assistant"`)
	first := readFrame()
	require.Contains(t, first, `"content"`)

	stopResult := make(chan error, 1)
	stopStart := time.Now()
	go func() { stopResult <- srv.Stop(context.Background()) }()

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	elapsed := time.Since(stopStart)

	require.NoError(t, <-stopResult)
	assert.Equal(t, StateStopped, srv.State())

	tail := string(rest)
	assert.Contains(t, tail, `"finish_reason":"stop"`)
	assert.Contains(t, tail, "data: [DONE]")
	assert.Less(t, elapsed, time.Second, "stream should wind down promptly after stop")
}
