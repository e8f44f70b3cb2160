package types

import "context"

// GenerationEvent is one unit of backend output. Exactly one field is set:
// Chunk for a text fragment, ToolCall for the single terminal tool call.
type GenerationEvent struct {
	Chunk    string
	ToolCall *ToolCall
}

// IsToolCall reports whether the event carries a tool call.
func (e GenerationEvent) IsToolCall() bool { return e.ToolCall != nil }

// EventStream is a pull iterator over generation events. Next returns io.EOF
// when the stream is exhausted. Close releases backend resources, unblocks
// any in-flight Next, and is safe to call more than once and concurrently
// with Next.
type EventStream interface {
	Next() (GenerationEvent, error)
	Close() error
}

// GenerationParams are the sampling and cache knobs forwarded to the backend.
// SessionID is opaque; the gateway forwards it verbatim for KV-cache reuse.
type GenerationParams struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	KVBits           *int
	KVGroupSize      int
	QuantizedKVStart int
	MaxKVSize        *int
	PrefillStepSize  int
	SessionID        string
}

// GenerationRequest is the backend-facing form of a chat request: the
// transcript, the active tool set after tool_choice filtering, and params.
type GenerationRequest struct {
	Model      string
	Messages   []Message
	Tools      []Tool
	ToolChoice *ToolChoice
	Params     GenerationParams
}

// GenerationResult is the outcome of a non-streaming generation. Exactly one
// of Text and ToolCall is meaningful; Truncated reports max_tokens exhaustion.
type GenerationResult struct {
	Text      string
	ToolCall  *ToolCall
	Usage     *Usage
	Truncated bool
}

// Backend is the inference contract the gateway consumes. Implementations
// must honor context cancellation: once the caller stops iterating or the
// context ends, outstanding work is released.
type Backend interface {
	StreamEvents(ctx context.Context, req GenerationRequest) (EventStream, error)
	GenerateOnce(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}
