package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/osaurus-ai/osaurus/pkg/server/handlers"
	"github.com/osaurus-ai/osaurus/pkg/server/middleware"
)

// NewRouter assembles the HTTP surface behind the middleware chain. Routes
// are registered in post-normalization form, so the /v1, /api and /v1/api
// spellings of each endpoint land on the same handler.
func NewRouter(deps handlers.Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	if deps.Settings != nil {
		r.Use(middleware.CORS(deps.Settings.AllowedOrigins))
	}
	r.Use(middleware.Normalize)

	chat := handlers.NewChatHandler(deps)
	ollama := handlers.NewOllamaHandler(deps)
	models := handlers.NewModelsHandler(deps)
	health := handlers.NewHealthHandler()

	r.Get("/health", health.Health)
	r.Get("/", health.Banner)
	r.Get("/models", models.List)
	r.Get("/tags", ollama.Tags)
	r.Post("/show", ollama.Show)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(newLimiter(deps)))
		g.Post("/chat/completions", chat.Completions)
		g.Post("/chat", ollama.Chat)
		g.Post("/generate", ollama.Generate)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return r
}

// newLimiter builds the generation-route token bucket, or nil when rate
// limiting is disabled.
func newLimiter(deps handlers.Deps) *rate.Limiter {
	if deps.Settings == nil || !deps.Settings.RateLimit.Enabled {
		return nil
	}
	rl := deps.Settings.RateLimit
	burst := rl.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rl.RPS), burst)
}
