package types

import (
	"encoding/json"
	"errors"
)

// Defaults applied when a chat request omits sampling fields.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Validation errors surfaced as 400 invalid_request_error responses.
var (
	ErrNoMessages             = errors.New("messages must not be empty")
	ErrInvalidTemperature     = errors.New("temperature must be between 0 and 2")
	ErrInvalidMaxTokens       = errors.New("max_tokens must be at least 1")
	ErrToolChoiceWithoutTools = errors.New("tool_choice requires tools")
)

// StopList accepts either a single string or an array of strings on the wire.
type StopList []string

func (s *StopList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StopList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ChatCompletionRequest is the OpenAI-compatible chat request body. Unknown
// fields are ignored by the decoder; n is advisory and treated as 1.
type ChatCompletionRequest struct {
	Model            string      `json:"model"`
	Messages         []Message   `json:"messages"`
	Temperature      *float64    `json:"temperature,omitempty"`
	MaxTokens        *int        `json:"max_tokens,omitempty"`
	TopP             *float64    `json:"top_p,omitempty"`
	FrequencyPenalty *float64    `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64    `json:"presence_penalty,omitempty"`
	Stop             StopList    `json:"stop,omitempty"`
	N                *int        `json:"n,omitempty"`
	Stream           bool        `json:"stream,omitempty"`
	Tools            []Tool      `json:"tools,omitempty"`
	ToolChoice       *ToolChoice `json:"tool_choice,omitempty"`
	SessionID        string      `json:"session_id,omitempty"`
}

// Validate checks the request against the documented bounds.
func (r *ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return ErrInvalidTemperature
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return ErrInvalidMaxTokens
	}
	if r.ToolChoice != nil && len(r.Tools) == 0 {
		return ErrToolChoiceWithoutTools
	}
	return nil
}

// EffectiveTemperature returns the request temperature or the default.
func (r *ChatCompletionRequest) EffectiveTemperature() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// EffectiveMaxTokens returns the request max_tokens or the default.
func (r *ChatCompletionRequest) EffectiveMaxTokens() int {
	if r.MaxTokens != nil {
		return *r.MaxTokens
	}
	return DefaultMaxTokens
}

// Finish reasons reported in choices.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// Usage reports token accounting for a completed response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ApproxTokenCount estimates tokens for text when the backend reports no
// counter: one token per four bytes, minimum one for non-empty text.
func ApproxTokenCount(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ChatCompletion is the non-streaming response envelope.
type ChatCompletion struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

// ChatCompletionChoice carries the assistant message for one choice.
type ChatCompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed SSE record.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries the delta for one streamed record. FinishReason stays
// null until the finish delta.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental payload of a chunk: a role prelude, a content
// fragment, or partial tool-call data.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a partial tool call keyed by position. The gateway emits
// at most one call per response, so Index is always 0.
type ToolCallDelta struct {
	Index    int            `json:"index"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function *FunctionDelta `json:"function,omitempty"`
}

// FunctionDelta carries the incremental name or arguments of a tool call.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ModelList is the GET /models envelope.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo is one entry in the models list.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
