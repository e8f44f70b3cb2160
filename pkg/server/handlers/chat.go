package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/pkg/server/middleware"
	"github.com/osaurus-ai/osaurus/pkg/services"
	"github.com/osaurus-ai/osaurus/pkg/stream"
	"github.com/osaurus-ai/osaurus/pkg/toolvalidator"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// ChatHandler serves the OpenAI-compatible POST /chat/completions endpoint.
type ChatHandler struct {
	deps Deps
}

func NewChatHandler(deps Deps) *ChatHandler {
	return &ChatHandler{deps: deps}
}

func (h *ChatHandler) Completions(w http.ResponseWriter, r *http.Request) {
	endGeneration := h.deps.beginGeneration()
	defer endGeneration()

	var req types.ChatCompletionRequest
	if err := ParseJSON(w, r, &req); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError(err.Error()))
		return
	}
	if err := toolvalidator.Validate(req.Tools, req.ToolChoice); err != nil {
		SendAPIError(w, http.StatusBadRequest, types.NewInvalidRequestError(err.Error()))
		return
	}
	if ids := toolvalidator.UnansweredCalls(req.Messages); len(ids) > 0 {
		h.deps.logger().Warn("transcript has unanswered tool calls",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Strings("tool_call_ids", ids))
	}

	res, ok := h.deps.resolve(w, req.Model)
	if !ok {
		return
	}
	genReq := h.buildGenerationRequest(&req, res.EffectiveModel)

	if req.Stream {
		h.streamCompletion(w, r, &req, genReq, res)
		return
	}
	h.completeOnce(w, r, &req, genReq, res)
}

// buildGenerationRequest merges the configured generation defaults with the
// per-request overrides. Tool filtering happens here, so tool_choice "none"
// leaves the backend request toolless and the probe disabled.
func (h *ChatHandler) buildGenerationRequest(req *types.ChatCompletionRequest, model string) types.GenerationRequest {
	params := h.deps.Settings.GenDefaults()
	params.Temperature = req.EffectiveTemperature()
	params.MaxTokens = req.EffectiveMaxTokens()
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	params.SessionID = req.SessionID

	return types.GenerationRequest{
		Model:      model,
		Messages:   req.Messages,
		Tools:      types.ActiveTools(req.Tools, req.ToolChoice),
		ToolChoice: req.ToolChoice,
		Params:     params,
	}
}

func (h *ChatHandler) completeOnce(w http.ResponseWriter, r *http.Request, req *types.ChatCompletionRequest, genReq types.GenerationRequest, res services.Resolution) {
	result, err := res.Backend.GenerateOnce(r.Context(), genReq)
	if err != nil {
		h.deps.logger().Error("generation failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("model", genReq.Model),
			zap.Error(err))
		SendAPIError(w, http.StatusInternalServerError, types.NewInternalError("generation failed"))
		h.deps.observeGeneration(res.Target, "error")
		return
	}

	message := types.Message{Role: types.RoleAssistant}
	finish := types.FinishStop
	content := result.Text

	if result.ToolCall != nil {
		call := *result.ToolCall
		call.ID = types.NewToolCallID()
		call.Type = "function"
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		message.ToolCalls = []types.ToolCall{call}
		finish = types.FinishToolCalls
	} else {
		if trimmed, hit := stream.TrimAtStop(content, req.Stop); hit {
			content = trimmed
		} else if result.Truncated {
			finish = types.FinishLength
		}
		message.Content = content
	}

	usage := approxUsage(req.Messages, content)
	if result.Usage != nil {
		usage = *result.Usage
	}

	_ = stream.WriteJSON(w, http.StatusOK, types.ChatCompletion{
		ID:      types.NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.ChatCompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finish,
		}},
		Usage: usage,
	})
	h.deps.observeGeneration(res.Target, finish)
}

func (h *ChatHandler) streamCompletion(w http.ResponseWriter, r *http.Request, req *types.ChatCompletionRequest, genReq types.GenerationRequest, res services.Resolution) {
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

	sw := stream.NewSSEWriter(w, stream.Meta{
		ID:      types.NewCompletionID(),
		Model:   req.Model,
		Created: time.Now().Unix(),
	})
	if err := sw.WriteHeaders(nil); err != nil {
		_ = es.Close()
		return
	}

	session := &stream.Session{
		Writer:        sw,
		Config:        h.deps.streamConfig(),
		Stops:         req.Stop,
		ProbeForTools: len(genReq.Tools) > 0,
		Logger: h.deps.logger().With(
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("model", genReq.Model)),
	}
	result := session.Run(r.Context(), es)
	h.deps.observeGeneration(res.Target, outcome(result))
}

func outcome(result stream.Result) string {
	if result.FinishReason != "" {
		return result.FinishReason
	}
	return "canceled"
}
