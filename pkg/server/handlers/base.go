// Package handlers implements the HTTP surface: OpenAI chat completions, the
// Ollama-compatible chat/generate/tags/show endpoints, model listings, and
// health.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/pkg/config"
	"github.com/osaurus-ai/osaurus/pkg/control"
	"github.com/osaurus-ai/osaurus/pkg/metrics"
	"github.com/osaurus-ai/osaurus/pkg/services"
	"github.com/osaurus-ai/osaurus/pkg/stream"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// Request bodies above this size are rejected by the decoder.
const maxBodyBytes = 10 << 20

// Deps are the collaborators shared by every handler.
type Deps struct {
	Router   *services.Router
	Settings *config.Settings
	Metrics  *metrics.Metrics
	Activity *control.Activity
	Logger   *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d Deps) streamConfig() stream.Config {
	return stream.Config{
		BatchChars:    d.Settings.StreamBatchChars,
		BatchInterval: d.Settings.BatchInterval(),
		ProbeTokens:   d.Settings.ToolProbeTokens,
		ProbeBytes:    d.Settings.ToolProbeBytes,
	}
}

// beginGeneration bumps the activity signal; the returned func ends it.
func (d Deps) beginGeneration() func() {
	if d.Activity == nil {
		return func() {}
	}
	return d.Activity.Begin()
}

func (d Deps) observeGeneration(target services.Target, outcome string) {
	if d.Metrics != nil {
		d.Metrics.ObserveGeneration(string(target), outcome)
	}
}

func (d Deps) instrument(es types.EventStream) types.EventStream {
	if d.Metrics == nil {
		return es
	}
	return d.Metrics.InstrumentStream(es)
}

// resolve routes the requested model, writing the 404 envelope on failure.
func (d Deps) resolve(w http.ResponseWriter, requested string) (services.Resolution, bool) {
	res, ok := d.Router.Resolve(requested)
	if ok {
		return res, true
	}
	if d.Router.HasServices() {
		SendAPIError(w, http.StatusNotFound, types.NewUnknownModelError(requested))
	} else {
		SendAPIError(w, http.StatusNotFound, types.NewNoServiceError())
	}
	return services.Resolution{}, false
}

// SendAPIError writes the standard error envelope.
func SendAPIError(w http.ResponseWriter, status int, apiErr *types.APIError) {
	_ = stream.WriteJSON(w, status, types.ErrorResponse{Error: apiErr})
}

// ParseJSON decodes the request body into dst with a size cap. Unknown fields
// are ignored, matching the wire contract.
func ParseJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// approxUsage fills token accounting when the backend reports none.
func approxUsage(messages []types.Message, completion string) types.Usage {
	prompt := 0
	for _, m := range messages {
		prompt += types.ApproxTokenCount(m.Content)
	}
	out := types.ApproxTokenCount(completion)
	return types.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
