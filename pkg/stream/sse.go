package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/osaurus-ai/osaurus/pkg/types"
)

// SSEWriter frames OpenAI chat.completion.chunk objects as server-sent
// events. Every frame is flushed as soon as it is written so clients see
// tokens without transport buffering.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	meta    Meta
	closed  bool
	failed  bool
}

// NewSSEWriter wraps w. The response writer should support http.Flusher;
// when it does not, frames are still written but only reach the client at
// the transport's discretion.
func NewSSEWriter(w http.ResponseWriter, meta Meta) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher, meta: meta}
}

// WriteHeaders sends the SSE header block and the 200 status line.
func (s *SSEWriter) WriteHeaders(extra http.Header) error {
	if s.closed || s.failed {
		return nil
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("X-Accel-Buffering", "no")
	for key, values := range extra {
		for _, v := range values {
			h.Add(key, v)
		}
	}
	s.w.WriteHeader(http.StatusOK)
	s.flush()
	return nil
}

func (s *SSEWriter) WriteRole(role string) error {
	return s.writeChunk(types.Delta{Role: role}, nil)
}

func (s *SSEWriter) WriteContent(text string) error {
	return s.writeChunk(types.Delta{Content: text}, nil)
}

// WriteToolCall emits the four-delta tool-call sequence: id and type, then
// the function name, then the arguments, then the tool_calls finish delta.
// The sequence is written back to back with no other frames interleaved.
func (s *SSEWriter) WriteToolCall(call types.ToolCall) bool {
	if s.closed || s.failed {
		return true
	}
	head := types.Delta{ToolCalls: []types.ToolCallDelta{{
		Index: 0,
		ID:    call.ID,
		Type:  "function",
	}}}
	name := types.Delta{ToolCalls: []types.ToolCallDelta{{
		Index:    0,
		Function: &types.FunctionDelta{Name: call.Function.Name},
	}}}
	args := types.Delta{ToolCalls: []types.ToolCallDelta{{
		Index:    0,
		Function: &types.FunctionDelta{Arguments: call.Function.Arguments},
	}}}
	if err := s.writeChunk(head, nil); err != nil {
		return true
	}
	if err := s.writeChunk(name, nil); err != nil {
		return true
	}
	if err := s.writeChunk(args, nil); err != nil {
		return true
	}
	reason := types.FinishToolCalls
	_ = s.writeChunk(types.Delta{}, &reason)
	return true
}

func (s *SSEWriter) WriteFinish(reason string) error {
	return s.writeChunk(types.Delta{}, &reason)
}

// WriteEnd emits the data: [DONE] terminator and seals the writer.
func (s *SSEWriter) WriteEnd() error {
	if s.closed || s.failed {
		return nil
	}
	s.closed = true
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		s.failed = true
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) writeChunk(delta types.Delta, finish *string) error {
	if s.closed || s.failed {
		return nil
	}
	chunk := types.ChatCompletionChunk{
		ID:      s.meta.ID,
		Object:  "chat.completion.chunk",
		Created: s.meta.Created,
		Model:   s.meta.Model,
		Choices: []types.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		s.failed = true
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.failed = true
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
