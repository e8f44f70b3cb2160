// Package upstream adapts an OpenAI-compatible chat-completions endpoint to
// the backend contract. It fronts the local inference runtime for installed
// models and, with a model override, the system-default service.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/internal/httpx"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the upstream root, e.g. http://127.0.0.1:8081/v1.
	BaseURL string
	// Model, when set, replaces the request model on the wire. The
	// system-default service uses this to map the foundation sentinel to a
	// concrete upstream model.
	Model string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Timeout bounds non-streaming calls and the streaming header wait.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client speaks the OpenAI chat-completions wire protocol to one upstream.
type Client struct {
	base   string
	model  string
	http   *httpx.Client
	logger *zap.Logger
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("upstream: base URL required")
	}
	headers := make(map[string]string)
	if opts.APIKey != "" {
		headers["Authorization"] = "Bearer " + opts.APIKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		model: opts.Model,
		http: httpx.New(httpx.Config{
			Timeout: opts.Timeout,
			Headers: headers,
		}),
		logger: logger,
	}, nil
}

// chatRequest is the outbound wire form. The kv_* and prefill fields are
// extensions understood by MLX-style runtimes; standard upstreams ignore
// them.
type chatRequest struct {
	Model            string            `json:"model"`
	Messages         []types.Message   `json:"messages"`
	Stream           bool              `json:"stream"`
	Temperature      *float64          `json:"temperature,omitempty"`
	MaxTokens        *int              `json:"max_tokens,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	Tools            []types.Tool      `json:"tools,omitempty"`
	ToolChoice       *types.ToolChoice `json:"tool_choice,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	KVBits           *int              `json:"kv_bits,omitempty"`
	KVGroupSize      int               `json:"kv_group_size,omitempty"`
	QuantizedKVStart int               `json:"quantized_kv_start,omitempty"`
	MaxKVSize        *int              `json:"max_kv_size,omitempty"`
	PrefillStepSize  int               `json:"prefill_step_size,omitempty"`
}

type completionChoice struct {
	Message      types.Message `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
	Usage   *types.Usage       `json:"usage"`
}

// StreamEvents opens a streaming completion and returns its event stream.
func (c *Client) StreamEvents(ctx context.Context, req types.GenerationRequest) (types.EventStream, error) {
	resp, err := c.http.PostJSONStream(ctx, c.base+"/chat/completions", c.wireRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}
	return newEventStream(resp.Body), nil
}

// GenerateOnce runs a non-streaming completion.
func (c *Client) GenerateOnce(ctx context.Context, req types.GenerationRequest) (types.GenerationResult, error) {
	resp, err := c.http.PostJSON(ctx, c.base+"/chat/completions", c.wireRequest(req, false))
	if err != nil {
		return types.GenerationResult{}, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.GenerationResult{}, c.statusError(resp)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.GenerationResult{}, fmt.Errorf("decode upstream response: %w", err)
	}
	if len(out.Choices) == 0 {
		return types.GenerationResult{}, errors.New("upstream returned no choices")
	}

	choice := out.Choices[0]
	result := types.GenerationResult{
		Text:      choice.Message.Content,
		Usage:     out.Usage,
		Truncated: choice.FinishReason == types.FinishLength,
	}
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		result.ToolCall = &call
	}
	return result, nil
}

func (c *Client) wireRequest(req types.GenerationRequest, stream bool) chatRequest {
	model := req.Model
	if c.model != "" {
		model = c.model
	}
	wire := chatRequest{
		Model:            model,
		Messages:         req.Messages,
		Stream:           stream,
		Temperature:      &req.Params.Temperature,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		SessionID:        req.Params.SessionID,
		KVBits:           req.Params.KVBits,
		KVGroupSize:      req.Params.KVGroupSize,
		QuantizedKVStart: req.Params.QuantizedKVStart,
		MaxKVSize:        req.Params.MaxKVSize,
		PrefillStepSize:  req.Params.PrefillStepSize,
	}
	if req.Params.MaxTokens > 0 {
		wire.MaxTokens = &req.Params.MaxTokens
	}
	if req.Params.TopP > 0 {
		wire.TopP = &req.Params.TopP
	}
	return wire
}

// statusError extracts a usable message from a non-200 upstream response.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var envelope types.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("upstream status %d: %s", resp.StatusCode, msg)
}
