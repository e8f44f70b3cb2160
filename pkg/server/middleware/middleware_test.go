package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/osaurus-ai/osaurus/pkg/metrics"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

func echoPathHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(r.URL.Path))
	})
}

func TestNormalizeStripsPrefixes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"v1 api combined", "/v1/api/chat/completions", "/chat/completions"},
		{"api alone", "/api/chat", "/chat"},
		{"v1 alone", "/v1/models", "/models"},
		{"longest prefix wins", "/v1/api/generate", "/generate"},
		{"bare prefix collapses to root", "/v1", "/"},
		{"bare api collapses to root", "/api", "/"},
		{"unrelated path untouched", "/chat/completions", "/chat/completions"},
		{"root untouched", "/", "/"},
		{"prefix not at segment boundary", "/v1x/chat", "/v1x/chat"},
		{"only one prefix stripped", "/api/v1/chat", "/v1/chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Normalize(echoPathHandler()).ServeHTTP(rec, httptest.NewRequest("POST", tt.in, nil))
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestNormalizeHeadReturns204(t *testing.T) {
	for _, path := range []string{"/", "/health", "/chat/completions", "/nope"} {
		rec := httptest.NewRecorder()
		Normalize(echoPathHandler()).ServeHTTP(rec, httptest.NewRequest("HEAD", path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
	}
}

func TestNormalizeDoesNotMutateSharedRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	Normalize(echoPathHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "/v1/chat/completions", req.URL.Path)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSDisabledWhenUnconfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Origin", "http://example.com")

	CORS(nil)(okHandler()).ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSEchoesMatchedOrigin(t *testing.T) {
	mw := CORS([]string{"http://a.test", "http://b.test"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Origin", "http://b.test")
	mw(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, "http://b.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestCORSUnmatchedOriginGetsNoHeaders(t *testing.T) {
	mw := CORS([]string{"http://a.test"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Origin", "http://evil.test")
	mw(okHandler()).ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSWildcard(t *testing.T) {
	mw := CORS([]string{"*"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Origin", "http://anything.test")
	mw(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardOnlyWhenAlone(t *testing.T) {
	// "*" mixed into a longer list is an exact-match entry, not a wildcard.
	mw := CORS([]string{"*", "http://a.test"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/models", nil)
	req.Header.Set("Origin", "http://anything.test")
	mw(okHandler()).ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	mw := CORS([]string{"http://a.test"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("OPTIONS", "/chat/completions", nil)
	req.Header.Set("Origin", "http://a.test")
	mw(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://a.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())
}

func TestRequestIDGenerated(t *testing.T) {
	var fromCtx string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.NotEmpty(t, fromCtx)
	assert.Equal(t, fromCtx, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPreserved(t *testing.T) {
	h := RequestID(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "given-id")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "given-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/chat/completions", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, types.ErrorTypeInternal, body.Error.Type)
}

func TestRecoveryAfterHeadersDoesNotRewrite(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("mid-stream")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestRateLimitRejectsWhenExhausted(t *testing.T) {
	mw := RateLimit(rate.NewLimiter(rate.Limit(0.001), 1))
	h := mw(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest("POST", "/chat", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest("POST", "/chat", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_error", body.Error.Type)
}

func TestRateLimitNilPassesThrough(t *testing.T) {
	h := RateLimit(nil)(okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/chat", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMetricsRecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/models", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/models", "GET", "200")))
}

func TestLoggingPreservesFlusher(t *testing.T) {
	var flushable bool
	h := Logging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/chat", nil))
	assert.True(t, flushable, "streaming needs Flush through the log wrapper")
}
