package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/pkg/server/middleware"
	"github.com/osaurus-ai/osaurus/pkg/stream"
	"github.com/osaurus-ai/osaurus/pkg/toolvalidator"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// OllamaHandler serves the Ollama-compatible endpoints: /chat, /generate,
// /tags and /show. Chat and generate always stream NDJSON regardless of the
// request's stream field.
type OllamaHandler struct {
	deps Deps
}

func NewOllamaHandler(deps Deps) *OllamaHandler {
	return &OllamaHandler{deps: deps}
}

func (h *OllamaHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req types.OllamaChatRequest
	if err := ParseJSON(w, r, &req); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError(types.ErrNoMessages.Error()))
		return
	}
	if err := toolvalidator.Validate(req.Tools, nil); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError(err.Error()))
		return
	}
	h.streamNDJSON(w, r, req.Model, req.Messages, req.Tools, req.Options, stream.NDJSONChat)
}

func (h *OllamaHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req types.OllamaGenerateRequest
	if err := ParseJSON(w, r, &req); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.Prompt == "" {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError("prompt must not be empty"))
		return
	}

	var messages []types.Message
	if req.System != "" {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: req.System})
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: req.Prompt})

	h.streamNDJSON(w, r, req.Model, messages, nil, req.Options, stream.NDJSONGenerate)
}

// streamNDJSON is the shared tail of the chat and generate paths.
func (h *OllamaHandler) streamNDJSON(w http.ResponseWriter, r *http.Request, model string, messages []types.Message, tools []types.Tool, options *types.OllamaOptions, style stream.NDJSONStyle) {
	endGeneration := h.deps.beginGeneration()
	defer endGeneration()

	res, ok := h.deps.resolve(w, model)
	if !ok {
		return
	}

	params := h.deps.Settings.GenDefaults()
	params.Temperature = types.DefaultTemperature
	params.MaxTokens = types.DefaultMaxTokens
	var stops []string
	if options != nil {
		if options.Temperature != nil {
			params.Temperature = *options.Temperature
		}
		if options.NumPredict != nil && *options.NumPredict > 0 {
			params.MaxTokens = *options.NumPredict
		}
		if options.TopP != nil {
			params.TopP = *options.TopP
		}
		stops = options.Stop
	}

	genReq := types.GenerationRequest{
		Model:    res.EffectiveModel,
		Messages: messages,
		Tools:    tools,
		Params:   params,
	}

	es, err := res.Backend.StreamEvents(r.Context(), genReq)
	if err != nil {
		h.deps.logger().Error("backend stream open failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("model", genReq.Model),
			zap.Error(err))
		SendAPIError(w, http.StatusInternalServerError, types.NewInternalError("generation failed"))
		h.deps.observeGeneration(res.Target, "error")
		return
	}
	es = h.deps.instrument(es)

	nw := stream.NewNDJSONWriter(w, style)
	if err := nw.WriteHeaders(nil); err != nil {
		_ = es.Close()
		return
	}

	session := &stream.Session{
		Writer:        nw,
		Config:        h.deps.streamConfig(),
		Stops:         stops,
		ProbeForTools: len(tools) > 0,
		Logger: h.deps.logger().With(
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("model", genReq.Model)),
	}
	result := session.Run(r.Context(), es)
	h.deps.observeGeneration(res.Target, outcome(result))
}

func (h *OllamaHandler) Tags(w http.ResponseWriter, r *http.Request) {
	installed := h.deps.Router.Installed()
	tags := make([]types.TagModel, 0, len(installed))
	for _, m := range installed {
		tagged := m.Name
		if !strings.Contains(tagged, ":") {
			tagged += ":latest"
		}
		tags = append(tags, types.TagModel{
			Name:       tagged,
			Model:      tagged,
			ModifiedAt: m.ModifiedAt,
			Size:       m.SizeBytes,
			Digest:     m.Digest,
			Details:    modelDetails(m.Format, m.Family, m.ParameterSize, m.Quantization),
		})
	}
	_ = stream.WriteJSON(w, http.StatusOK, types.TagsResponse{Models: tags})
}

func (h *OllamaHandler) Show(w http.ResponseWriter, r *http.Request) {
	var req types.ShowRequest
	if err := ParseJSON(w, r, &req); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	name := req.ModelName()
	if name == "" {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError("model must not be empty"))
		return
	}

	m, found := h.deps.Router.Lookup(name)
	if !found {
		SendAPIError(w, http.StatusNotFound, types.NewUnknownModelError(name))
		return
	}

	capabilities := m.Capabilities
	if len(capabilities) == 0 {
		capabilities = []string{"completion"}
	}
	_ = stream.WriteJSON(w, http.StatusOK, types.ShowResponse{
		Modelfile:    "FROM " + m.Name,
		Parameters:   "",
		Template:     m.Template,
		Details:      modelDetails(m.Format, m.Family, m.ParameterSize, m.Quantization),
		Capabilities: capabilities,
	})
}

func modelDetails(format, family, parameterSize, quantization string) types.ModelDetails {
	var families []string
	if family != "" {
		families = []string{family}
	}
	return types.ModelDetails{
		Format:            format,
		Family:            family,
		Families:          families,
		ParameterSize:     parameterSize,
		QuantizationLevel: quantization,
	}
}
